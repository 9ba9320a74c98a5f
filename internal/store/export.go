package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/essaygrader/internal/model"
)

// ExportEvents groups recorded events by submission, in first-seen order.
func (s *Store) ExportEvents(kind model.EventKind, task, rubricHash string) (model.EventExport, error) {
	events, err := s.ListEvents(kind)
	if err != nil {
		return model.EventExport{}, fmt.Errorf("list events: %w", err)
	}
	out := model.EventExport{
		Task:        task,
		RubricHash:  rubricHash,
		ExportedAt:  time.Now().UTC(),
		NumEvents:   len(events),
		Submissions: []model.SubmissionExport{},
	}
	index := make(map[string]int)
	for _, ev := range events {
		i, ok := index[ev.SubmissionID]
		if !ok {
			i = len(out.Submissions)
			index[ev.SubmissionID] = i
			out.Submissions = append(out.Submissions, model.SubmissionExport{
				SubmissionID: ev.SubmissionID,
				Group:        ev.Group,
				Students:     ev.Students,
			})
		}
		sub := &out.Submissions[i]
		if ev.Kind == model.EventFirst {
			sub.Mark = ev.Mark
		}
		sub.Events = append(sub.Events, ev)
	}
	return out, nil
}
