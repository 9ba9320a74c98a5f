package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/essaygrader/internal/llm"
	"github.com/pavelanni/essaygrader/internal/model"
	"github.com/pavelanni/essaygrader/internal/rubric"
	"github.com/pavelanni/essaygrader/internal/sink"
	"github.com/pavelanni/essaygrader/internal/store"
)

type fakeGenerator struct {
	replies []string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no reply queued")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []model.Event
}

func (e *recordingEmitter) Emit(_ context.Context, ev model.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func testRubric(t *testing.T) model.Rubric {
	t.Helper()
	loaded, err := rubric.Default()
	require.NoError(t, err)
	return loaded.Rubric
}

func newTestWorkflow(t *testing.T, gen llm.Generator, emit sink.Emitter) *Workflow {
	t.Helper()
	w := New(testRubric(t), gen, nil, emit, Options{RequireChanges: true})
	w.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	n := 0
	w.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return w
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func essayOf(words int) string {
	parts := make([]string, words)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}

func TestRequestFeedback(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Thinking about it...\nFEEDBACK START:\nOverall Impression: good.\nFINAL MARK: 7,5/10"}}
	emit := &recordingEmitter{}
	w := newTestWorkflow(t, gen, emit)

	rec := w.NewRecord()
	got, err := w.RequestFeedback(context.Background(), rec, DraftInput{
		Identity: model.NewIdentity("1A", " Jane Doe ", "", "John Roe"),
		Essay:    "Phones help us learn.",
	})
	require.NoError(t, err)

	assert.Equal(t, model.PhaseAwaitingRevision, got.Phase)
	assert.Equal(t, "7,5/10", got.Mark.String())
	assert.Equal(t, "Overall Impression: good.\nFINAL MARK: 7,5/10", got.Feedback)
	assert.Equal(t, []string{"Jane Doe", "John Roe"}, got.Identity.Students)
	assert.Equal(t, 4, got.WordCount)
	assert.Equal(t, "Phones help us learn.", got.Draft)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "WORD COUNT: 4 words")
	assert.Contains(t, gen.prompts[0], "Phones help us learn.")

	require.Len(t, emit.events, 1)
	ev := emit.events[0]
	assert.Equal(t, model.EventFirst, ev.Kind)
	assert.Equal(t, rec.ID, ev.SubmissionID)
	assert.Equal(t, "Jane Doe, John Roe", ev.Students)
	assert.Equal(t, "1A", ev.Group)
	assert.Equal(t, "7,5/10", ev.Mark)
	assert.Equal(t, w.Rubric().Label, ev.Task)
}

func TestRequestFeedbackMarkMissing(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Overall Impression: fine."}}
	emit := &recordingEmitter{}
	w := newTestWorkflow(t, gen, emit)

	got, err := w.RequestFeedback(context.Background(), w.NewRecord(), DraftInput{
		Identity: model.NewIdentity("2B", "Ana"),
		Essay:    "Short essay.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.MarkNotFound, got.Mark.String())
	require.Len(t, emit.events, 1)
	assert.Equal(t, model.MarkNotFound, emit.events[0].Mark)
}

func TestRequestFeedbackValidation(t *testing.T) {
	tests := []struct {
		name  string
		in    DraftInput
		field string
		msgID string
	}{
		{"no students", DraftInput{Identity: model.NewIdentity("1A", " ", ""), Essay: "x"}, "students", MsgStudentsRequired},
		{"too many", DraftInput{Identity: model.NewIdentity("1A", "a", "b", "c", "d", "e"), Essay: "x"}, "students", MsgTooManyStudents},
		{"unknown group", DraftInput{Identity: model.NewIdentity("9Z", "a"), Essay: "x"}, "group", MsgUnknownGroup},
		{"blank essay", DraftInput{Identity: model.NewIdentity("1A", "a"), Essay: " \n\t"}, "essay", MsgEssayRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{replies: []string{"unused"}}
			emit := &recordingEmitter{}
			w := newTestWorkflow(t, gen, emit)
			rec := w.NewRecord()

			got, err := w.RequestFeedback(context.Background(), rec, tt.in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.msgID, verr.MsgID)
			assert.Equal(t, rec, got)
			assert.Empty(t, gen.prompts, "validation must not call the model")
			assert.Empty(t, emit.events)
		})
	}
}

func TestRequestFeedbackModelFailure(t *testing.T) {
	gen := &fakeGenerator{err: &llm.FatalError{Attempts: 4, Err: llm.ErrUnavailable}}
	emit := &recordingEmitter{}
	w := newTestWorkflow(t, gen, emit)
	rec := w.NewRecord()

	got, err := w.RequestFeedback(context.Background(), rec, DraftInput{
		Identity: model.NewIdentity("1A", "Jane Doe"),
		Essay:    "An essay.",
	})
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, rec, got)
	assert.Equal(t, model.PhaseDrafting, got.Phase)
	assert.Empty(t, emit.events)
}

func TestPhaseGuards(t *testing.T) {
	w := newTestWorkflow(t, &fakeGenerator{}, nil)
	drafting := w.NewRecord()

	_, err := w.SubmitRevision(context.Background(), drafting, "revised")
	assert.ErrorIs(t, err, ErrWrongPhase)

	_, err = w.Reset(drafting)
	assert.ErrorIs(t, err, ErrWrongPhase)

	awaiting := drafting
	awaiting.Phase = model.PhaseAwaitingRevision
	awaiting.Feedback = "Overall Impression: ok."
	_, err = w.RequestFeedback(context.Background(), awaiting, DraftInput{Identity: model.NewIdentity("1A", "a"), Essay: "x"})
	assert.ErrorIs(t, err, ErrWrongPhase)
	_, err = w.Reset(awaiting)
	assert.ErrorIs(t, err, ErrWrongPhase)

	noFeedback := drafting
	noFeedback.Phase = model.PhaseAwaitingRevision
	_, err = w.SubmitRevision(context.Background(), noFeedback, "revised")
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestFullCycle(t *testing.T) {
	gen := &fakeGenerator{replies: []string{
		"Overall Impression: good.\nFINAL MARK: 6/10",
		"FEEDBACK START:\nYou fixed the conclusion.",
	}}
	emit := &recordingEmitter{}
	w := newTestWorkflow(t, gen, emit)
	ctx := context.Background()

	rec, err := w.RequestFeedback(ctx, w.NewRecord(), DraftInput{
		Identity: model.NewIdentity("1B", "Jane Doe"),
		Essay:    "Phones are bad. The end.",
	})
	require.NoError(t, err)

	_, err = w.SubmitRevision(ctx, rec, "  Phones are bad.\n The   end. ")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MsgRevisionSame, verr.MsgID)

	_, err = w.SubmitRevision(ctx, rec, "   ")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MsgEssayRequired, verr.MsgID)
	require.Len(t, gen.prompts, 1)

	done, err := w.SubmitRevision(ctx, rec, "Phones are harmful. In conclusion, ban them.")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseComplete, done.Phase)
	assert.Equal(t, "You fixed the conclusion.", done.RevisionFeedback)
	assert.Equal(t, "6/10", done.Mark.String(), "the draft mark is kept")

	require.Len(t, gen.prompts, 2)
	assert.Contains(t, gen.prompts[1], "Overall Impression: good.")
	assert.Contains(t, gen.prompts[1], "Phones are bad. The end.")
	assert.Contains(t, gen.prompts[1], "CHANGES DETECTED AUTOMATICALLY")

	require.Len(t, emit.events, 2)
	rev := emit.events[1]
	assert.Equal(t, model.EventRevision, rev.Kind)
	assert.Equal(t, rec.ID, rev.SubmissionID)
	assert.Empty(t, rev.Mark)
	assert.Equal(t, "Phones are harmful. In conclusion, ban them.", rev.Essay)

	fresh, err := w.Reset(done)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseDrafting, fresh.Phase)
	assert.NotEqual(t, done.ID, fresh.ID)
	assert.Equal(t, done.Identity, fresh.Identity)
	assert.Empty(t, fresh.Draft)
	assert.Empty(t, fresh.Feedback)
}

func TestRevisionMayMatchDraftWhenAllowed(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"Overall Impression: ok.", "No changes made."}}
	w := New(testRubric(t), gen, nil, nil, Options{RequireChanges: false})
	require.False(t, w.Options().RequireChanges)
	ctx := context.Background()

	rec, err := w.RequestFeedback(ctx, w.NewRecord(), DraftInput{Identity: model.NewIdentity("1A", "a"), Essay: "Same text."})
	require.NoError(t, err)
	done, err := w.SubmitRevision(ctx, rec, "Same text.")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseComplete, done.Phase)
}

// End to end through the real model client and webhook emitter.
func TestDraftEndToEnd(t *testing.T) {
	modelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Overall Impression: good.\nFINAL MARK: 6,0/10"}]}}]}`)
	}))
	defer modelSrv.Close()

	var mu sync.Mutex
	var posts []map[string]any
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		posts = append(posts, body)
		mu.Unlock()
	}))
	defer hook.Close()

	client := llm.NewWithModel(llm.NewGemini(modelSrv.URL, "k", llm.Sampling{}, time.Second), "gemini-test", llm.DefaultRetryPolicy)
	st := newTestStore(t)
	w := New(testRubric(t), client, st, sink.NewWebhook(hook.URL, time.Second), Options{RequireChanges: true})

	essay := essayOf(90)
	got, err := w.RequestFeedback(context.Background(), w.NewRecord(), DraftInput{
		Identity: model.NewIdentity("1C", "Jane Doe"),
		Essay:    essay,
	})
	require.NoError(t, err)
	assert.Equal(t, "6,0/10", got.Mark.String())
	assert.Equal(t, 90, got.WordCount)

	stored, err := st.GetSubmission(got.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseAwaitingRevision, stored.Phase)
	assert.Equal(t, "6,0/10", stored.Mark.String())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, posts, 1)
	assert.Equal(t, "FIRST", posts[0]["type"])
	assert.Equal(t, "6,0/10", posts[0]["mark"])
	assert.Equal(t, essay, posts[0]["essay"])
	assert.Equal(t, "Jane Doe", posts[0]["students"])
}

func TestDraftEndToEndServerDown(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	emit := &recordingEmitter{}
	policy := llm.RetryPolicy{MaxAttempts: 3, Backoff: llm.BackoffFixed}
	client := llm.NewWithModel(llm.NewGemini(srv.URL, "k", llm.Sampling{}, time.Second), "m", policy)
	w := New(testRubric(t), client, nil, emit, Options{})
	rec := w.NewRecord()

	got, err := w.RequestFeedback(context.Background(), rec, DraftInput{
		Identity: model.NewIdentity("1A", "Jane Doe"),
		Essay:    "An essay.",
	})
	var fe *llm.FatalError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, llm.BusyMessage, fe.UserMessage())
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, rec, got)
	assert.Empty(t, emit.events)
}

func TestRequestFeedbackIgnoresEchoedExampleMark(t *testing.T) {
	gen := &fakeGenerator{replies: []string{
		"Private: the last line must be \"FINAL MARK: X/10\", e.g. \"FINAL MARK: 7,5/10\".\n" +
			"FEEDBACK START:\nOverall Impression: good, but the mark line is missing.",
	}}
	emit := &recordingEmitter{}
	w := newTestWorkflow(t, gen, emit)

	got, err := w.RequestFeedback(context.Background(), w.NewRecord(), DraftInput{
		Identity: model.NewIdentity("1A", "Jane Doe"),
		Essay:    "Phones help us learn.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.MarkNotFound, got.Mark.String())
	assert.Equal(t, "Overall Impression: good, but the mark line is missing.", got.Feedback)
	require.Len(t, emit.events, 1)
	assert.Equal(t, model.MarkNotFound, emit.events[0].Mark)
}

// gatedGenerator holds every call until n calls are in flight, so concurrent
// requests all pass the phase check before any of them commits.
type gatedGenerator struct {
	arrived sync.WaitGroup
	reply   string
	calls   atomic.Int32
}

func newGatedGenerator(n int, reply string) *gatedGenerator {
	g := &gatedGenerator{reply: reply}
	g.arrived.Add(n)
	return g
}

func (g *gatedGenerator) Generate(context.Context, string) (string, error) {
	g.calls.Add(1)
	g.arrived.Done()
	all := make(chan struct{})
	go func() {
		g.arrived.Wait()
		close(all)
	}()
	select {
	case <-all:
	case <-time.After(5 * time.Second):
	}
	return g.reply, nil
}

func TestConcurrentFeedbackCommitsOnce(t *testing.T) {
	st := newTestStore(t)
	gen := newGatedGenerator(2, "Overall Impression: good.\nFINAL MARK: 6/10")
	emit := &recordingEmitter{}
	w := New(testRubric(t), gen, st, emit, Options{RequireChanges: true})

	rec := w.NewRecord()
	require.NoError(t, st.SaveSubmission(rec))

	in := DraftInput{Identity: model.NewIdentity("1A", "Jane Doe"), Essay: "Phones help us learn."}
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.RequestFeedback(context.Background(), rec, in)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(2), gen.calls.Load())
	var ok, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrWrongPhase):
			lost++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, lost)

	emit.mu.Lock()
	defer emit.mu.Unlock()
	require.Len(t, emit.events, 1, "only the committed transition is emitted")
	assert.Equal(t, model.EventFirst, emit.events[0].Kind)

	stored, err := st.GetSubmission(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseAwaitingRevision, stored.Phase)
}

func TestConcurrentRevisionCommitsOnce(t *testing.T) {
	st := newTestStore(t)
	emit := &recordingEmitter{}
	first := New(testRubric(t), &fakeGenerator{replies: []string{"Overall Impression: good.\nFINAL MARK: 6/10"}}, st, emit, Options{RequireChanges: true})
	rec, err := first.RequestFeedback(context.Background(), first.NewRecord(), DraftInput{
		Identity: model.NewIdentity("1A", "Jane Doe"),
		Essay:    "Phones help us learn.",
	})
	require.NoError(t, err)

	gen := newGatedGenerator(2, "You added an example.")
	w := New(testRubric(t), gen, st, emit, Options{RequireChanges: true})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = w.SubmitRevision(context.Background(), rec, "Phones help us learn, for example maps.")
		}(i)
	}
	wg.Wait()

	lost := 0
	for _, err := range errs {
		if errors.Is(err, ErrWrongPhase) {
			lost++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, lost)

	emit.mu.Lock()
	defer emit.mu.Unlock()
	require.Len(t, emit.events, 2)
	assert.Equal(t, model.EventRevision, emit.events[1].Kind)
}
