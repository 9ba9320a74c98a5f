package sink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/essaygrader/internal/model"
)

func testEvent() model.Event {
	return model.Event{
		ID:           "ev-1",
		Kind:         model.EventFirst,
		SubmissionID: "sub-1",
		Group:        "1A",
		Students:     "Jane Doe, John Roe",
		Task:         "Opinion Essay",
		Mark:         "6,0/10",
		Essay:        "My essay.",
		Feedback:     "Overall Impression: good.",
		WordCount:    2,
		SubmittedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookPostSchema(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewWebhook(srv.URL, time.Second).Post(context.Background(), testEvent()))

	want := map[string]any{
		"event_id":      "ev-1",
		"type":          "FIRST",
		"submission_id": "sub-1",
		"group":         "1A",
		"students":      "Jane Doe, John Roe",
		"task":          "Opinion Essay",
		"mark":          "6,0/10",
		"essay":         "My essay.",
		"feedback":      "Overall Impression: good.",
		"word_count":    float64(2),
		"submitted_at":  "2026-03-01T10:00:00Z",
	}
	assert.Equal(t, want, got)
}

func TestWebhookPostErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Post(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	err = NewWebhook("http://127.0.0.1:1", time.Second).Post(context.Background(), testEvent())
	require.Error(t, err)
}

func TestWebhookEmitIgnoresCallerCancel(t *testing.T) {
	hits := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewWebhook(srv.URL, time.Second).Emit(ctx, testEvent())

	select {
	case <-hits:
	default:
		t.Fatal("expected the webhook to be called despite the cancelled context")
	}
}

func TestWebhookEmitSwallowsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.NotPanics(t, func() {
		NewWebhook(srv.URL, time.Second).Emit(context.Background(), testEvent())
	})
}

type memRecorder struct {
	events []model.Event
	err    error
}

func (m *memRecorder) RecordEvent(ev model.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func TestMultiAndMirror(t *testing.T) {
	ok := &memRecorder{}
	broken := &memRecorder{err: errors.New("disk full")}
	m := Multi{Mirror{Recorder: broken}, Nop{}, Mirror{Recorder: ok}}

	m.Emit(context.Background(), testEvent())

	require.Len(t, ok.events, 1, "a failing emitter must not stop the others")
	assert.Equal(t, "ev-1", ok.events[0].ID)
}
