package chainstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver ("pgx")
	_ "modernc.org/sqlite"             // SQLite driver ("sqlite")
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// SQL is the relational Store. Each session is one row of chat_chains.
type SQL struct {
	db      *sql.DB
	dialect dialect
}

var _ Store = (*SQL)(nil)

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

// OpenSQLite opens (or creates) the SQLite database at path and runs all
// pending migrations.
func OpenSQLite(path string) (*SQL, error) {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return open(db, dialectSQLite)
}

// OpenPostgres connects to the PostgreSQL server at dsn and runs all pending
// migrations.
func OpenPostgres(dsn string) (*SQL, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return open(db, dialectPostgres)
}

func open(db *sql.DB, d dialect) (*SQL, error) {
	s := &SQL{db: db, dialect: d}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d, err)
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// DB returns the raw *sql.DB, shared with the Matrix sync store.
func (s *SQL) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *SQL) Close() error { return s.db.Close() }

// Rebind rewrites ? placeholders into the dialect's form.
func (s *SQL) Rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Load returns the stored chain text for sessionID.
func (s *SQL) Load(ctx context.Context, sessionID int64) ([]byte, bool, error) {
	var chain string
	err := s.db.QueryRowContext(ctx,
		s.Rebind(`SELECT chain FROM chat_chains WHERE session_id = ?`), sessionID,
	).Scan(&chain)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &Error{Op: "load", SessionID: sessionID, Err: err}
	}
	return []byte(chain), true, nil
}

// Save inserts the row for sessionID or updates its chain column.
func (s *SQL) Save(ctx context.Context, sessionID int64, data []byte) error {
	_, err := s.db.ExecContext(ctx, s.Rebind(`
		INSERT INTO chat_chains (session_id, chain, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			chain      = excluded.chain,
			updated_at = excluded.updated_at
	`), sessionID, string(data))
	if err != nil {
		return &Error{Op: "save", SessionID: sessionID, Err: err}
	}
	slog.Debug("chain saved", "backend", s.dialect.String(), "session_id", sessionID, "bytes", len(data))
	return nil
}

// runMigrations applies any SQL files not yet recorded in schema_migrations.
func (s *SQL) runMigrations() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			description TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= current {
			continue
		}
		description := strings.TrimSuffix(rest, ".sql")

		content, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration tx: %w", err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", e.Name(), err)
		}
		if _, err := tx.Exec(
			s.Rebind("INSERT INTO schema_migrations (version, description) VALUES (?, ?)"),
			version, description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", e.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", e.Name(), err)
		}
		slog.Info("applied migration", "dialect", s.dialect.String(), "version", version, "description", description)
	}
	return nil
}
