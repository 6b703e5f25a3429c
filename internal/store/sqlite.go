package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound reports a lookup that matched nothing, including malformed ids.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps every infrastructure failure from the backing database.
	ErrUnavailable = errors.New("store unavailable")
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options selects the backing database and the two collections (tables).
// An empty URL opens a private in-memory database. A URL ending in a path
// separator is treated as a directory holding "<Database>.db".
type Options struct {
	URL      string
	Database string
	Messages string
	Grants   string
}

type Store struct {
	db         *sql.DB
	messages   string
	recipients string
	grants     string
	now        func() time.Time
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Database == "" {
		opts.Database = "tempmail"
	}
	if opts.Messages == "" {
		opts.Messages = "emails"
	}
	if opts.Grants == "" {
		opts.Grants = "saved_emails"
	}
	for _, name := range []string{opts.Messages, opts.Grants} {
		if !identPattern.MatchString(name) {
			return nil, fmt.Errorf("invalid collection name %q", name)
		}
	}

	dsn, inMemory := resolveDSN(opts.URL, opts.Database)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{
		db:         db,
		messages:   opts.Messages,
		recipients: opts.Messages + "_recipients",
		grants:     opts.Grants,
		now:        time.Now,
	}, nil
}

func resolveDSN(url, database string) (string, bool) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" || trimmed == ":memory:" || trimmed == "file::memory:" {
		return ":memory:", true
	}
	if strings.HasSuffix(trimmed, "/") || strings.HasSuffix(trimmed, string(filepath.Separator)) {
		return filepath.Join(trimmed, database+".db"), false
	}
	return trimmed, strings.Contains(trimmed, "mode=memory")
}

// SetClock replaces the clock used to stamp receivedAt. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id TEXT PRIMARY KEY,
            sender TEXT NOT NULL,
            subject TEXT NOT NULL,
            headers TEXT NOT NULL,
            raw_body BLOB NOT NULL,
            received_at INTEGER NOT NULL
        );`, s.messages),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            message_id TEXT NOT NULL,
            position INTEGER NOT NULL,
            email TEXT NOT NULL,
            FOREIGN KEY(message_id) REFERENCES %s(id) ON DELETE CASCADE
        );`, s.recipients, s.messages),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            email TEXT NOT NULL,
            token TEXT NOT NULL UNIQUE,
            status TEXT NOT NULL,
            expires_at INTEGER NOT NULL,
            email_count INTEGER NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        );`, s.grants),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_email_lower ON %s(lower(email));`, s.recipients, s.recipients),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_message ON %s(message_id, position);`, s.recipients, s.recipients),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_received ON %s(received_at);`, s.messages, s.messages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sender_received ON %s(sender, received_at);`, s.messages, s.messages),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_email_status ON %s(email, status, expires_at);`, s.grants, s.grants),
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
