// Package workflow moves a submission record from first draft to revision.
// It holds no per-session state: each operation takes a record and returns
// the updated copy.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/essaygrader/internal/diff"
	"github.com/pavelanni/essaygrader/internal/feedback"
	"github.com/pavelanni/essaygrader/internal/llm"
	"github.com/pavelanni/essaygrader/internal/llm/prompts"
	"github.com/pavelanni/essaygrader/internal/model"
	"github.com/pavelanni/essaygrader/internal/rubric"
	"github.com/pavelanni/essaygrader/internal/sink"
	"github.com/pavelanni/essaygrader/internal/store"
)

// ErrWrongPhase is returned when an operation is not allowed in the record's phase.
var ErrWrongPhase = errors.New("operation not allowed in current phase")

// ValidationError reports bad student input. MsgID names the translated message.
type ValidationError struct {
	Field string
	MsgID string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, validationText[e.MsgID])
}

// Translation ids for validation failures.
const (
	MsgStudentsRequired = "ErrStudentsRequired"
	MsgTooManyStudents  = "ErrTooManyStudents"
	MsgUnknownGroup     = "ErrUnknownGroup"
	MsgEssayRequired    = "ErrEssayRequired"
	MsgRevisionSame     = "ErrRevisionUnchanged"
)

var validationText = map[string]string{
	MsgStudentsRequired: "at least one student name is required",
	MsgTooManyStudents:  "too many students",
	MsgUnknownGroup:     "group is not in the list",
	MsgEssayRequired:    "essay is empty",
	MsgRevisionSame:     "revision is identical to the first draft",
}

// DraftInput is what the student fills in before asking for feedback.
type DraftInput struct {
	Identity model.Identity
	Essay    string
}

// Options tune workflow behaviour.
type Options struct {
	// RequireChanges rejects revisions whose words match the draft.
	RequireChanges bool
}

// Committer persists a transition only if the stored record is still in the
// phase it was read in. *store.Store implements it.
type Committer interface {
	CommitSubmission(rec model.SubmissionRecord, from model.Phase) error
}

type nopCommitter struct{}

func (nopCommitter) CommitSubmission(model.SubmissionRecord, model.Phase) error { return nil }

// Workflow runs the draft and revision steps against one rubric.
type Workflow struct {
	rubric model.Rubric
	gen    llm.Generator
	commit Committer
	emit   sink.Emitter
	opts   Options
	now    func() time.Time
	newID  func() string
}

// New creates a Workflow. A nil committer keeps records in memory only; a nil
// emitter discards events.
func New(r model.Rubric, gen llm.Generator, commit Committer, emit sink.Emitter, opts Options) *Workflow {
	if commit == nil {
		commit = nopCommitter{}
	}
	if emit == nil {
		emit = sink.Nop{}
	}
	return &Workflow{
		rubric: r,
		gen:    gen,
		commit: commit,
		emit:   emit,
		opts:   opts,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Rubric returns the rubric the workflow grades against.
func (w *Workflow) Rubric() model.Rubric { return w.rubric }

// Options returns the settings the workflow was created with.
func (w *Workflow) Options() Options { return w.opts }

// save commits next over rec. Losing to a concurrent transition on the same
// record is reported as ErrWrongPhase.
func (w *Workflow) save(rec, next model.SubmissionRecord) error {
	err := w.commit.CommitSubmission(next, rec.Phase)
	if errors.Is(err, store.ErrStale) {
		return fmt.Errorf("record %s already left %s: %w", rec.ID, rec.Phase, ErrWrongPhase)
	}
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

// NewRecord returns an empty record in the drafting phase.
func (w *Workflow) NewRecord() model.SubmissionRecord {
	now := w.now().UTC()
	return model.SubmissionRecord{
		ID:        w.newID(),
		Phase:     model.PhaseDrafting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RequestFeedback grades a first draft, commits the graded record and emits a
// FIRST event. On any error the returned record is the unchanged input and
// nothing is emitted.
func (w *Workflow) RequestFeedback(ctx context.Context, rec model.SubmissionRecord, in DraftInput) (model.SubmissionRecord, error) {
	if rec.Phase != model.PhaseDrafting {
		return rec, fmt.Errorf("request feedback in %s: %w", rec.Phase, ErrWrongPhase)
	}
	in.Identity = model.NewIdentity(in.Identity.Group, in.Identity.Students...)
	if err := w.validateDraft(in); err != nil {
		return rec, err
	}

	words := prompts.WordCount(in.Essay)
	prompt, err := prompts.BuildDraftPrompt(prompts.DraftData{
		Rules:          w.rubric.Rules,
		Task:           w.rubric.Task,
		RequiredPoints: w.rubric.RequiredPoints,
		OutputFormat:   w.rubric.OutputFormat,
		WordCount:      words,
		Essay:          in.Essay,
	})
	if err != nil {
		return rec, fmt.Errorf("build draft prompt: %w", err)
	}

	raw, err := w.gen.Generate(ctx, prompt)
	if err != nil {
		slog.Warn("draft feedback failed", "submission_id", rec.ID, "error", err)
		return rec, err
	}

	parsed := feedback.Parse(raw, w.rubric.LeakMarkers...)
	mark := parsed.Mark
	next := rec
	next.Identity = in.Identity
	next.Draft = in.Essay
	next.Feedback = parsed.Text
	next.Mark = mark
	next.WordCount = words
	next.Phase = model.PhaseAwaitingRevision
	next.UpdatedAt = w.now().UTC()

	if err := w.save(rec, next); err != nil {
		return rec, err
	}
	w.emit.Emit(ctx, w.event(model.EventFirst, next, next.Draft, next.Feedback, mark.String(), words))
	slog.Info("draft graded",
		"submission_id", next.ID,
		"group", next.Identity.Group,
		"mark", mark.String(),
		"words", words,
	)
	return next, nil
}

// SubmitRevision asks the model to compare the revision with the draft. No
// new mark is assigned. The record is committed before the REVISION event is
// emitted. On any error the returned record is the unchanged input.
func (w *Workflow) SubmitRevision(ctx context.Context, rec model.SubmissionRecord, essay string) (model.SubmissionRecord, error) {
	if rec.Phase != model.PhaseAwaitingRevision || rec.Feedback == "" {
		return rec, fmt.Errorf("submit revision in %s: %w", rec.Phase, ErrWrongPhase)
	}
	if strings.TrimSpace(essay) == "" {
		return rec, &ValidationError{Field: "essay", MsgID: MsgEssayRequired}
	}
	if w.opts.RequireChanges && diff.Unchanged(rec.Draft, essay) {
		return rec, &ValidationError{Field: "essay", MsgID: MsgRevisionSame}
	}

	changes := diff.Words(rec.Draft, essay)
	words := prompts.WordCount(essay)
	prompt, err := prompts.BuildRevisionPrompt(prompts.RevisionData{
		Rules:            w.rubric.Rules,
		Task:             w.rubric.Task,
		PreviousFeedback: rec.Feedback,
		Draft:            rec.Draft,
		Revision:         essay,
		Changes:          changes.Lines(),
		WordCount:        words,
	})
	if err != nil {
		return rec, fmt.Errorf("build revision prompt: %w", err)
	}

	raw, err := w.gen.Generate(ctx, prompt)
	if err != nil {
		slog.Warn("revision feedback failed", "submission_id", rec.ID, "error", err)
		return rec, err
	}

	next := rec
	next.Revision = essay
	next.RevisionFeedback = feedback.StripLeak(raw, w.rubric.LeakMarkers...)
	next.Phase = model.PhaseComplete
	next.UpdatedAt = w.now().UTC()

	if err := w.save(rec, next); err != nil {
		return rec, err
	}
	w.emit.Emit(ctx, w.event(model.EventRevision, next, next.Revision, next.RevisionFeedback, "", words))
	slog.Info("revision reviewed",
		"submission_id", next.ID,
		"words_added", changes.WordsAdded,
		"words_removed", changes.WordsRemoved,
	)
	return next, nil
}

// Reset starts a new submission after a completed one, keeping the identity.
func (w *Workflow) Reset(rec model.SubmissionRecord) (model.SubmissionRecord, error) {
	if rec.Phase != model.PhaseComplete {
		return rec, fmt.Errorf("reset in %s: %w", rec.Phase, ErrWrongPhase)
	}
	next := w.NewRecord()
	next.Identity = rec.Identity
	return next, nil
}

func (w *Workflow) validateDraft(in DraftInput) error {
	if in.Identity.Empty() {
		return &ValidationError{Field: "students", MsgID: MsgStudentsRequired}
	}
	limit := w.rubric.MaxStudents
	if limit <= 0 {
		limit = rubric.MaxStudentsLimit
	}
	if len(in.Identity.Students) > limit {
		return &ValidationError{Field: "students", MsgID: MsgTooManyStudents}
	}
	if !w.rubric.HasGroup(in.Identity.Group) {
		return &ValidationError{Field: "group", MsgID: MsgUnknownGroup}
	}
	if strings.TrimSpace(in.Essay) == "" {
		return &ValidationError{Field: "essay", MsgID: MsgEssayRequired}
	}
	return nil
}

func (w *Workflow) event(kind model.EventKind, rec model.SubmissionRecord, essay, text, mark string, words int) model.Event {
	return model.Event{
		ID:           w.newID(),
		Kind:         kind,
		SubmissionID: rec.ID,
		Group:        rec.Identity.Group,
		Students:     rec.Identity.DisplayName(),
		Task:         w.rubric.Label,
		Mark:         mark,
		Essay:        essay,
		Feedback:     text,
		WordCount:    words,
		SubmittedAt:  rec.UpdatedAt,
	}
}
