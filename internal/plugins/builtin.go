// Package plugins bundles the database plugins compiled into the binary.
package plugins

import (
	"github.com/shakram02/go-sql-agent/internal/plugin"
	"github.com/shakram02/go-sql-agent/internal/plugins/mysql"
	"github.com/shakram02/go-sql-agent/internal/plugins/postgres"
	"github.com/shakram02/go-sql-agent/internal/plugins/sqlite"
)

// Builtin returns a fresh instance of every bundled plugin.
func Builtin() []plugin.Plugin {
	return []plugin.Plugin{
		mysql.New(),
		postgres.NewPGX(),
		postgres.NewPQ(),
		sqlite.New(),
	}
}

// NewRegistry returns a registry holding the bundled plugins.
func NewRegistry() (*plugin.Registry, error) {
	return plugin.NewRegistry(Builtin()...)
}
