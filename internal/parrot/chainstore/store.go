// Package chainstore persists serialized chains, one per session.
//
// Two backends implement Store: a relational one (SQLite or PostgreSQL,
// keyed by session id with upsert-on-save) and a filesystem one (one JSON
// file per session). Both are safe for concurrent calls with distinct
// session ids. Calls for the same session id are serialized by the session
// cache, not here.
package chainstore

import (
	"context"
	"fmt"

	"github.com/bdobrica/Parrot/internal/parrot/config"
)

// Store loads and saves serialized chains.
type Store interface {
	// Load returns the stored chain for sessionID. found is false, with a nil
	// error, when nothing has been stored yet.
	Load(ctx context.Context, sessionID int64) (data []byte, found bool, err error)

	// Save stores data for sessionID, replacing any previous value.
	Save(ctx context.Context, sessionID int64, data []byte) error

	// Close releases the backend's resources.
	Close() error
}

// Error is returned for any backend failure.
type Error struct {
	Op        string // "load" or "save"
	SessionID int64
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("chainstore: %s session %d: %v", e.Op, e.SessionID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New opens the backend selected by cfg.Backend.
func New(cfg config.Store) (Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPostgres:
		s, err := OpenPostgres(cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendFilesystem:
		return NewDir(cfg.Filesystem.Dir), nil
	default:
		return nil, fmt.Errorf("chainstore: unknown backend %q", cfg.Backend)
	}
}
