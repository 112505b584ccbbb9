package chainstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// Dir is the filesystem Store: one file per session at {base}/{id}.json.
type Dir struct {
	base string
}

var _ Store = (*Dir)(nil)

// NewDir returns a Store rooted at base. Nothing is created until the first
// Save.
func NewDir(base string) *Dir {
	return &Dir{base: base}
}

// Path returns the file that holds sessionID's chain.
func (d *Dir) Path(sessionID int64) string {
	return filepath.Join(d.base, strconv.FormatInt(sessionID, 10)+".json")
}

// Load reads the session file. A missing file or base directory means the
// session was never saved.
func (d *Dir) Load(_ context.Context, sessionID int64) ([]byte, bool, error) {
	data, err := os.ReadFile(d.Path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &Error{Op: "load", SessionID: sessionID, Err: err}
	}
	return data, true, nil
}

// Save creates the base directory when missing and replaces the session file.
// The data is written to a temp file in the same directory first and renamed
// into place, so readers never observe a partial chain.
func (d *Dir) Save(_ context.Context, sessionID int64, data []byte) error {
	if err := os.MkdirAll(d.base, 0o755); err != nil {
		return &Error{Op: "save", SessionID: sessionID, Err: fmt.Errorf("create directory: %w", err)}
	}
	target := d.Path(sessionID)
	tmp := filepath.Join(d.base, "."+strconv.FormatInt(sessionID, 10)+"-"+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return &Error{Op: "save", SessionID: sessionID, Err: err}
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return &Error{Op: "save", SessionID: sessionID, Err: err}
	}
	return nil
}

// Close is a no-op.
func (d *Dir) Close() error { return nil }
