package matrix

import (
	"context"
	"path/filepath"
	"testing"

	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Parrot/internal/parrot/chainstore"
)

func newTestSyncStore(t *testing.T) *DBSyncStore {
	t.Helper()
	db, err := chainstore.OpenSQLite(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewDBSyncStore(db)
}

func TestDBSyncStore_EmptyOnFirstRun(t *testing.T) {
	s := newTestSyncStore(t)
	ctx := context.Background()
	user := id.UserID("@parrot:example.org")

	batch, err := s.LoadNextBatch(ctx, user)
	if err != nil || batch != "" {
		t.Fatalf("LoadNextBatch = %q, %v", batch, err)
	}
	filter, err := s.LoadFilterID(ctx, user)
	if err != nil || filter != "" {
		t.Fatalf("LoadFilterID = %q, %v", filter, err)
	}
}

func TestDBSyncStore_SaveOverwrites(t *testing.T) {
	s := newTestSyncStore(t)
	ctx := context.Background()
	user := id.UserID("@parrot:example.org")

	for _, tok := range []string{"s1_abc", "s2_def"} {
		if err := s.SaveNextBatch(ctx, user, tok); err != nil {
			t.Fatalf("SaveNextBatch(%q): %v", tok, err)
		}
	}
	if err := s.SaveFilterID(ctx, user, "f1"); err != nil {
		t.Fatalf("SaveFilterID: %v", err)
	}

	if got, _ := s.LoadNextBatch(ctx, user); got != "s2_def" {
		t.Errorf("next batch = %q, want s2_def", got)
	}
	if got, _ := s.LoadFilterID(ctx, user); got != "f1" {
		t.Errorf("filter id = %q, want f1", got)
	}
	if got, _ := s.LoadNextBatch(ctx, "@other:example.org"); got != "" {
		t.Errorf("other user's batch = %q, want empty", got)
	}
}
