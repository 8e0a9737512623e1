// Package connbuilder turns a generic plugin.ConnectionConfig into the URL and property
// set a particular driver expects.
package connbuilder

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shakram02/go-sql-agent/internal/plugin"
)

// Spec captures one dialect's connection quirks. Template may reference {host}, {port}
// and {database}.
type Spec struct {
	Template    string
	DefaultHost string
	DefaultPort int

	// PathEscape escapes the database name before it is placed in the template.
	PathEscape bool

	UserKey     string
	PasswordKey string

	// TimeoutKey receives cfg.TimeoutSeconds converted to TimeoutUnit. A zero unit
	// writes a Go duration string such as "10s".
	TimeoutKey  string
	TimeoutUnit time.Duration

	// DatabaseKey, when set, also passes the database name as a property.
	DatabaseKey string
}

// Properties is the driver property bag.
type Properties map[string]string

// URL formats s.Template for cfg.
func URL(cfg plugin.ConnectionConfig, s Spec) string {
	host := cfg.Host
	if host == "" {
		host = s.DefaultHost
	}
	port := cfg.Port
	if port == 0 {
		port = s.DefaultPort
	}
	db := cfg.Database
	if s.PathEscape {
		db = url.PathEscape(db)
	}

	r := strings.NewReplacer(
		"{host}", host,
		"{port}", strconv.Itoa(port),
		"{database}", db,
	)
	return r.Replace(s.Template)
}

// Build returns the URL and properties for cfg. Credentials are only set when non-blank
// and the caller's own properties are applied last so they win.
func Build(cfg plugin.ConnectionConfig, s Spec) (string, Properties) {
	props := Properties{}
	if s.UserKey != "" && strings.TrimSpace(cfg.Username) != "" {
		props[s.UserKey] = cfg.Username
	}
	if s.PasswordKey != "" && strings.TrimSpace(cfg.Password) != "" {
		props[s.PasswordKey] = cfg.Password
	}
	if s.TimeoutKey != "" && cfg.TimeoutSeconds > 0 {
		props[s.TimeoutKey] = timeout(cfg.TimeoutSeconds, s.TimeoutUnit)
	}
	if s.DatabaseKey != "" && cfg.Database != "" {
		props[s.DatabaseKey] = cfg.Database
	}
	for k, v := range cfg.Properties {
		props[k] = v
	}
	return URL(cfg, s), props
}

func timeout(seconds int, unit time.Duration) string {
	d := time.Duration(seconds) * time.Second
	if unit <= 0 {
		return d.String()
	}
	return strconv.FormatInt(int64(d/unit), 10)
}

// Take removes key from p and returns its value.
func (p Properties) Take(key string) string {
	v := p[key]
	delete(p, key)
	return v
}

// Keys returns the property names in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode renders p as a URL query string.
func (p Properties) Encode() string {
	v := url.Values{}
	for k, val := range p {
		v.Set(k, val)
	}
	return v.Encode()
}

// WithQuery appends p to base as a query string.
func WithQuery(base string, p Properties) string {
	if len(p) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + p.Encode()
}
