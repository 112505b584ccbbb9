package matrix

// syncstore.go persists the mautrix sync position (next_batch) and filter ID
// in the relational chain store's database, so a restarted bot resumes where
// it stopped instead of re-reading room history.

import (
	"context"
	"database/sql"
	"errors"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*DBSyncStore)(nil)

// SyncDB is the database the sync store writes to. *chainstore.SQL satisfies
// it; the matrix_sync_state table comes from its migrations.
type SyncDB interface {
	DB() *sql.DB
	Rebind(query string) string
}

// DBSyncStore implements mautrix.SyncStore over rows of matrix_sync_state
// keyed by (user_id, key).
type DBSyncStore struct {
	db SyncDB
}

// NewDBSyncStore returns a sync store backed by db.
func NewDBSyncStore(db SyncDB) *DBSyncStore {
	return &DBSyncStore{db: db}
}

// SaveFilterID persists the event-filter ID for userID.
func (s *DBSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.saveKey(ctx, userID.String(), "filter_id", filterID)
}

// LoadFilterID returns the saved event-filter ID, or "" on first run.
func (s *DBSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.loadKey(ctx, userID.String(), "filter_id")
}

// SaveNextBatch persists the opaque /sync next_batch token.
func (s *DBSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.saveKey(ctx, userID.String(), "next_batch", nextBatchToken)
}

// LoadNextBatch returns the saved next_batch token, or "" on first run.
func (s *DBSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.loadKey(ctx, userID.String(), "next_batch")
}

func (s *DBSyncStore) saveKey(ctx context.Context, userID, key, value string) error {
	_, err := s.db.DB().ExecContext(ctx, s.db.Rebind(`
		INSERT INTO matrix_sync_state (user_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value
	`), userID, key, value)
	return err
}

func (s *DBSyncStore) loadKey(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.DB().QueryRowContext(ctx, s.db.Rebind(`
		SELECT value FROM matrix_sync_state WHERE user_id = ? AND key = ?
	`), userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
