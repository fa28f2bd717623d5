// Package history keeps a sqlite log of every published status.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tunez/presence/internal/nowplaying"
	"github.com/tunez/presence/internal/presence"
)

// Entry is one recorded publish.
type Entry struct {
	ID          string
	Status      string
	Track       nowplaying.Track
	Cleared     bool
	PublishedAt time.Time
}

// Store records published statuses to SQLite. It also serves as a
// presence.Publisher so the manager can feed it directly.
type Store struct {
	db  *sql.DB
	id  string
	now func() time.Time
}

// Open creates or opens the history database at dbPath.
// If dbPath is empty, uses the default location.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		var err error
		dbPath, err = DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve history db path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// modernc sqlite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, id: "history", now: time.Now}
	if err := store.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// DefaultPath returns the platform state location of the history database.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	name := "tunez-presence"
	if runtime.GOOS == "windows" {
		name = "TunezPresence"
	}
	return filepath.Join(dir, name, "state", "history.db"), nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS presence_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			artist TEXT NOT NULL,
			title TEXT NOT NULL,
			cleared INTEGER NOT NULL DEFAULT 0,
			published_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS presence_history_published_at ON presence_history (published_at);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate history schema: %w", err)
		}
	}
	return nil
}

func (s *Store) ID() string      { return s.id }
func (s *Store) Name() string    { return "History" }
func (s *Store) IsEnabled() bool { return s.db != nil }
func (s *Store) SetID(id string) { s.id = id }

// Publish records status; a nil status is recorded as a clear.
func (s *Store) Publish(ctx context.Context, status *presence.Status) error {
	_, err := s.Record(ctx, status)
	return err
}

// Record inserts one entry and returns it.
func (s *Store) Record(ctx context.Context, status *presence.Status) (Entry, error) {
	e := Entry{ID: uuid.NewString(), Cleared: status == nil, PublishedAt: s.now()}
	if status != nil {
		e.Status = status.Text
		e.Track = status.Track
		if !status.At.IsZero() {
			e.PublishedAt = status.At
		}
	}

	cleared := 0
	if e.Cleared {
		cleared = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO presence_history (id, status, artist, title, cleared, published_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Status, e.Track.Artist, e.Track.Title, cleared, e.PublishedAt.UnixMilli())
	if err != nil {
		return Entry{}, fmt.Errorf("insert history entry: %w", err)
	}
	return e, nil
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, artist, title, cleared, published_at
		 FROM presence_history ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			cleared int
			at      int64
		)
		if err := rows.Scan(&e.ID, &e.Status, &e.Track.Artist, &e.Track.Title, &cleared, &at); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Cleared = cleared == 1
		e.PublishedAt = time.UnixMilli(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Prune keeps only the newest keep entries and reports how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM presence_history WHERE seq NOT IN (
			SELECT seq FROM presence_history ORDER BY seq DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
