package store

import (
	"fmt"

	"github.com/pavelanni/essaygrader/internal/model"
)

// RecordEvent stores a copy of an event sent to the logging sink.
// Recording the same event id twice is a no-op.
func (s *Store) RecordEvent(ev model.Event) error {
	_, err := s.db.Exec(
		`INSERT INTO sink_events (id, kind, submission_id, grp, students, task, mark, essay, feedback, word_count, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		ev.ID, ev.Kind, ev.SubmissionID, ev.Group, ev.Students, ev.Task, ev.Mark,
		ev.Essay, ev.Feedback, ev.WordCount, ev.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("record event %s: %w", ev.ID, err)
	}
	return nil
}

// ListEvents returns recorded events in the order they were sent.
// An empty kind returns every event.
func (s *Store) ListEvents(kind model.EventKind) ([]model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, submission_id, grp, students, task, mark, essay, feedback, word_count, submitted_at
		 FROM sink_events WHERE ? = '' OR kind = ? ORDER BY seq`,
		kind, kind,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []model.Event
	for rows.Next() {
		var ev model.Event
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.SubmissionID, &ev.Group, &ev.Students, &ev.Task,
			&ev.Mark, &ev.Essay, &ev.Feedback, &ev.WordCount, &ev.SubmittedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// EventCount returns the number of recorded events.
func (s *Store) EventCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sink_events`).Scan(&n)
	return n, err
}
