package driverfile

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Resolver serializes concurrent first-time resolutions of the same artifact so it is
// downloaded once.
type Resolver struct {
	manager *Manager
	group   singleflight.Group
}

func NewResolver(m *Manager) *Resolver {
	return &Resolver{manager: m}
}

// Resolve behaves like Manager.Resolve. Callers asking for the same engine and
// coordinates while a resolution is in flight share its outcome. The shared download
// is not tied to any one caller: a caller whose ctx ends gets ctx.Err() while the
// download continues for the others.
func (r *Resolver) Resolve(ctx context.Context, engine string, c Coordinates) (string, error) {
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(engine+"|"+c.String(), func() (any, error) {
		return r.manager.Resolve(shared, engine, c)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Manager returns the wrapped manager.
func (r *Resolver) Manager() *Manager {
	return r.manager
}
