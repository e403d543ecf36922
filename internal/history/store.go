package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rbright/voxnote/internal/session"
)

// ErrNotFound is returned by Get for unknown session IDs.
var ErrNotFound = errors.New("session not found")

// ErrAmbiguous is returned by Get when an ID prefix matches several sessions.
var ErrAmbiguous = errors.New("session id prefix is ambiguous")

const defaultLimit = 20

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	stage TEXT NOT NULL,
	errorKind TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	audioPath TEXT NOT NULL DEFAULT '',
	transcriptPath TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	startedAt INTEGER NOT NULL,
	finishedAt INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_started ON sessions(startedAt DESC);
`

const selectColumns = `
	SELECT id, stage, errorKind, error, message, audioPath, transcriptPath,
		transcript, language, device, startedAt, finishedAt
	FROM sessions`

// Store is the session archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Archive implements session.Archiver. Re-archiving a session replaces it.
func (s *Store) Archive(ctx context.Context, r session.Result) error {
	e := entryFromResult(r)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (
			id, stage, errorKind, error, message, audioPath, transcriptPath,
			transcript, language, device, startedAt, finishedAt
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.SessionID, e.Stage, e.ErrorKind, e.Error, e.Message, e.AudioPath, e.TranscriptPath,
		e.Transcript, e.Language, e.Device, e.StartedAt.UnixMilli(), e.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("archive session %s: %w", e.SessionID, err)
	}
	return nil
}

// List returns the most recent sessions first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		ORDER BY startedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return scanEntries(rows)
}

// Search returns sessions whose transcript contains query, newest first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, limit)
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE transcript LIKE ? ESCAPE '\'
		ORDER BY startedAt DESC
		LIMIT ?
	`, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	return scanEntries(rows)
}

// Get returns one session by ID or unique ID prefix.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Entry{}, fmt.Errorf("empty id: %w", ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Entry{}, err
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE id LIKE ? ESCAPE '\'
		ORDER BY startedAt DESC
		LIMIT 2
	`, escapeLike(id)+"%")
	if err != nil {
		return Entry{}, fmt.Errorf("query session %s: %w", id, err)
	}
	matches, err := scanEntries(rows)
	if err != nil {
		return Entry{}, err
	}
	switch len(matches) {
	case 0:
		return Entry{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return Entry{}, fmt.Errorf("%s: %w", id, ErrAmbiguous)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var startedAt, finishedAt int64
	if err := row.Scan(&e.SessionID, &e.Stage, &e.ErrorKind, &e.Error, &e.Message,
		&e.AudioPath, &e.TranscriptPath, &e.Transcript, &e.Language, &e.Device,
		&startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan session: %w", err)
	}
	e.StartedAt = time.UnixMilli(startedAt)
	e.FinishedAt = time.UnixMilli(finishedAt)
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func entryFromResult(r session.Result) Entry {
	e := Entry{
		SessionID:  r.SessionID,
		Stage:      string(r.Stage),
		Message:    r.Message,
		Transcript: r.Transcript,
		Language:   r.Language,
		Device:     r.Device,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.Artifacts != nil {
		e.AudioPath = r.Artifacts.AudioPath
		e.TranscriptPath = r.Artifacts.TranscriptPath
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
		if kind, ok := session.KindOf(r.Err); ok {
			e.ErrorKind = string(kind)
		}
	}
	return e
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ session.Archiver = (*Store)(nil)
