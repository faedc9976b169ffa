package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kalambet/reviewdesk/internal/feedback"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the persisted session: one records set and one cursor. Only the
// relay writes records; the cursor is written through SetCursor after the
// caller has re-read the state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the session database in dataDir and runs pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "session.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: the in-memory database is per connection, and a single
	// writer avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// AppliedMigrations returns applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readState(ctx context.Context, q querier) (SessionState, error) {
	var rawRecords, rawCursor string
	if err := q.QueryRowContext(ctx, "SELECT value FROM session_kv WHERE key = ?", keyRecords).Scan(&rawRecords); err != nil {
		return SessionState{}, fmt.Errorf("reading records: %w", err)
	}
	if err := q.QueryRowContext(ctx, "SELECT value FROM session_kv WHERE key = ?", keyCursor).Scan(&rawCursor); err != nil {
		return SessionState{}, fmt.Errorf("reading cursor: %w", err)
	}

	var st SessionState
	if err := json.Unmarshal([]byte(rawRecords), &st.Records); err != nil {
		return SessionState{}, fmt.Errorf("decoding records: %w", err)
	}
	cur, err := strconv.Atoi(rawCursor)
	if err != nil {
		return SessionState{}, fmt.Errorf("decoding cursor %q: %w", rawCursor, err)
	}
	// A cursor left out of range by an older write is treated as 0.
	if cur < 0 || cur >= len(st.Records) {
		cur = 0
	}
	st.Cursor = cur
	return st, nil
}

// Load returns the current session. An untouched store yields no records and cursor 0.
func (s *Store) Load(ctx context.Context) (SessionState, error) {
	return readState(ctx, s.db)
}

// ReplaceRecords overwrites the record set and resets the cursor to 0 in one
// transaction.
func (s *Store) ReplaceRecords(ctx context.Context, recs []feedback.Record) error {
	if recs == nil {
		recs = []feedback.Record{}
	}
	data, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO session_kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsert, keyRecords, string(data)); err != nil {
		return fmt.Errorf("writing records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsert, keyCursor, "0"); err != nil {
		return fmt.Errorf("resetting cursor: %w", err)
	}
	return tx.Commit()
}

// SetCursor writes the cursor after checking 0 <= k < len(records) against
// the stored record set.
func (s *Store) SetCursor(ctx context.Context, k int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	st, err := readState(ctx, tx)
	if err != nil {
		return err
	}
	if k < 0 || k >= len(st.Records) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrCursorOutOfRange, k, len(st.Records))
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE session_kv SET value = ?, updated_at = CURRENT_TIMESTAMP WHERE key = ?",
		strconv.Itoa(k), keyCursor); err != nil {
		return fmt.Errorf("writing cursor: %w", err)
	}
	return tx.Commit()
}
