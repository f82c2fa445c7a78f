package registry

import (
	"context"

	"github.com/rotisserie/eris"
)

// Drivers accepted by Open.
const (
	DriverKuzu     = "kuzu"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Options select and locate a registry backend.
type Options struct {
	Driver string
	Path   string // kuzu database directory
	DSN    string // postgres connection string
}

// Open returns an initialized Store for opts.Driver. An empty driver means
// kuzu.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Driver {
	case "", DriverKuzu:
		s, err = openKuzuStore(opts.Path)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, eris.New("registry: postgres driver needs a DSN")
		}
		s, err = NewPgStore(ctx, opts.DSN)
	case DriverMemory:
		s = NewMemStore()
	default:
		return nil, eris.Errorf("registry: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.InitSchema(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
