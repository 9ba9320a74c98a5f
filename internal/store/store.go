package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/essaygrader/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a submission id has no row.
var ErrNotFound = errors.New("submission not found")

// ErrStale is returned by CommitSubmission when the stored row has left the
// phase the caller read it in.
var ErrStale = errors.New("submission changed by another request")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dbPath+sep+"_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		phase TEXT NOT NULL DEFAULT 'drafting',
		grp TEXT NOT NULL DEFAULT '',
		students TEXT NOT NULL DEFAULT '[]',
		draft TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		mark TEXT NOT NULL DEFAULT '',
		mark_found INTEGER NOT NULL DEFAULT 0,
		word_count INTEGER NOT NULL DEFAULT 0,
		revision TEXT NOT NULL DEFAULT '',
		revision_feedback TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_updated ON submissions(updated_at);

	CREATE TABLE IF NOT EXISTS sink_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		submission_id TEXT NOT NULL,
		grp TEXT NOT NULL DEFAULT '',
		students TEXT NOT NULL DEFAULT '',
		task TEXT NOT NULL DEFAULT '',
		mark TEXT NOT NULL DEFAULT '',
		essay TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		word_count INTEGER NOT NULL DEFAULT 0,
		submitted_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'teacher',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const submissionColumns = `id, phase, grp, students, draft, feedback, mark, mark_found, word_count,
	revision, revision_feedback, created_at, updated_at`

// SaveSubmission inserts or replaces a submission record.
func (s *Store) SaveSubmission(rec model.SubmissionRecord) error {
	_, err := s.upsertSubmission(rec, "")
	return err
}

// CommitSubmission saves rec only if the stored row is still in phase from.
// A row that does not exist yet is inserted. It returns ErrStale when another
// writer moved the record on first.
func (s *Store) CommitSubmission(rec model.SubmissionRecord, from model.Phase) error {
	n, err := s.upsertSubmission(rec, from)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("commit submission %s from %s: %w", rec.ID, from, ErrStale)
	}
	return nil
}

func (s *Store) upsertSubmission(rec model.SubmissionRecord, from model.Phase) (int64, error) {
	students, err := json.Marshal(rec.Identity.Students)
	if err != nil {
		return 0, fmt.Errorf("encode students: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}
	rec.CreatedAt, rec.UpdatedAt = rec.CreatedAt.UTC(), rec.UpdatedAt.UTC()

	query := `INSERT INTO submissions (` + submissionColumns + `)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			grp = excluded.grp,
			students = excluded.students,
			draft = excluded.draft,
			feedback = excluded.feedback,
			mark = excluded.mark,
			mark_found = excluded.mark_found,
			word_count = excluded.word_count,
			revision = excluded.revision,
			revision_feedback = excluded.revision_feedback,
			updated_at = excluded.updated_at`
	args := []any{
		rec.ID, rec.Phase, rec.Identity.Group, string(students), rec.Draft, rec.Feedback,
		rec.Mark.Value, rec.Mark.Found, rec.WordCount, rec.Revision, rec.RevisionFeedback,
		rec.CreatedAt, rec.UpdatedAt,
	}
	if from != "" {
		query += ` WHERE submissions.phase = ?`
		args = append(args, from)
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("save submission %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("save submission %s: %w", rec.ID, err)
	}
	return n, nil
}

// GetSubmission returns a record by id, or ErrNotFound.
func (s *Store) GetSubmission(id string) (model.SubmissionRecord, error) {
	row := s.db.QueryRow(`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id)
	rec, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SubmissionRecord{}, ErrNotFound
	}
	return rec, err
}

// ListSubmissions returns records ordered by most recent activity.
func (s *Store) ListSubmissions(limit int) ([]model.SubmissionRecord, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(`SELECT `+submissionColumns+` FROM submissions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SubmissionRecord
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSubmission removes a record. Missing ids are not an error.
func (s *Store) DeleteSubmission(id string) error {
	_, err := s.db.Exec(`DELETE FROM submissions WHERE id = ?`, id)
	return err
}

// CleanupExpired removes submissions idle for longer than ttl and expired
// auth sessions. It returns the number of submissions removed.
func (s *Store) CleanupExpired(ttl time.Duration) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM submissions WHERE updated_at < ?`, time.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("cleanup submissions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := s.CleanupExpiredSessions(); err != nil {
		return n, fmt.Errorf("cleanup auth sessions: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner) (model.SubmissionRecord, error) {
	var rec model.SubmissionRecord
	var students string
	err := row.Scan(&rec.ID, &rec.Phase, &rec.Identity.Group, &students, &rec.Draft, &rec.Feedback,
		&rec.Mark.Value, &rec.Mark.Found, &rec.WordCount, &rec.Revision, &rec.RevisionFeedback,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal([]byte(students), &rec.Identity.Students); err != nil {
		return rec, fmt.Errorf("decode students of %s: %w", rec.ID, err)
	}
	return rec, nil
}
