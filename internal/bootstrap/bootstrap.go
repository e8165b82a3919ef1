// Package bootstrap wires a DATABASE_URL into the matching store/graph
// backend pair, shared by cmd/worker and cmd/scheduler (spec §4.8, §6).
package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/madmag77/wirl/graph"
	gstore "github.com/madmag77/wirl/graph/store"
	"github.com/madmag77/wirl/store"
)

// Stores bundles the two persistence layers a daemon needs: the job
// queue/trigger Store and the Pregel Runner's Checkpointer. They are
// kept separate per spec §4.8, but both are selected from the same
// DATABASE_URL so a daemon only configures one connection string.
type Stores struct {
	Store        store.Store
	Checkpointer graph.Checkpointer
	Close        func() error
}

// Open selects a backend from databaseURL's scheme ("sqlite:" or
// "mysql:"), opening the matching job-store backend from
// store/{sqlite,mysql}.go and checkpointer backend from
// graph/store/{sqlite,mysql}.go.
func Open(ctx context.Context, databaseURL string) (*Stores, error) {
	switch {
	case strings.HasPrefix(databaseURL, "sqlite:"):
		path := strings.TrimPrefix(databaseURL, "sqlite:")
		s, err := store.NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		cp, err := gstore.NewSQLiteStore(path)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open sqlite checkpointer: %w", err)
		}
		return &Stores{
			Store:        s,
			Checkpointer: cp,
			Close: func() error {
				err1 := s.Close()
				err2 := cp.Close()
				if err1 != nil {
					return err1
				}
				return err2
			},
		}, nil

	case strings.HasPrefix(databaseURL, "mysql:"):
		dsn := strings.TrimPrefix(databaseURL, "mysql:")
		s, err := store.NewMySQLStore(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
		cp, err := gstore.NewMySQLStore(ctx, dsn)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open mysql checkpointer: %w", err)
		}
		return &Stores{
			Store:        s,
			Checkpointer: cp,
			Close: func() error {
				err1 := s.Close()
				err2 := cp.Close()
				if err1 != nil {
					return err1
				}
				return err2
			},
		}, nil

	default:
		return nil, fmt.Errorf("unrecognized DATABASE_URL scheme (want sqlite: or mysql:): %q", databaseURL)
	}
}
