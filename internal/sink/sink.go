// Package sink delivers submission events to the spreadsheet webhook and
// keeps a local copy. Delivery failures are logged and never returned to the
// grading flow.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pavelanni/essaygrader/internal/model"
)

// Emitter receives submission events.
type Emitter interface {
	Emit(ctx context.Context, ev model.Event)
}

// Webhook posts each event as a flat JSON object.
type Webhook struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewWebhook creates a webhook emitter. Each post is bounded by timeout.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Webhook{url: url, timeout: timeout, client: &http.Client{}}
}

// Post sends one event and reports any failure.
func (w *Webhook) Post(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Emit posts the event, detached from the caller's cancellation.
func (w *Webhook) Emit(ctx context.Context, ev model.Event) {
	start := time.Now()
	if err := w.Post(context.WithoutCancel(ctx), ev); err != nil {
		slog.Warn("sink post failed",
			"event_id", ev.ID,
			"type", ev.Kind,
			"submission_id", ev.SubmissionID,
			"error", err,
		)
		return
	}
	slog.Debug("sink post ok", "event_id", ev.ID, "type", ev.Kind, "duration_ms", time.Since(start).Milliseconds())
}

// Recorder persists events locally.
type Recorder interface {
	RecordEvent(ev model.Event) error
}

// Mirror stores every event through a Recorder.
type Mirror struct {
	Recorder Recorder
}

func (m Mirror) Emit(_ context.Context, ev model.Event) {
	if err := m.Recorder.RecordEvent(ev); err != nil {
		slog.Warn("mirror event failed", "event_id", ev.ID, "type", ev.Kind, "error", err)
	}
}

// Multi fans an event out to several emitters in order.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, ev model.Event) {
	for _, e := range m {
		e.Emit(ctx, ev)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, model.Event) {}
