package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Provider performs a single generation request against one backend.
type Provider interface {
	Name() string
	GenerateContent(ctx context.Context, model, prompt string) (string, error)
}

// Sampling holds optional generation parameters. Zero values are not sent.
type Sampling struct {
	Temperature     float32
	MaxOutputTokens int
}

// Backoff selects how the wait between attempts grows.
type Backoff string

const (
	BackoffFixed  Backoff = "fixed"
	BackoffLinear Backoff = "linear"
)

// RetryPolicy bounds how often and how patiently a request is repeated.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     Backoff
}

// DefaultRetryPolicy makes four attempts, waiting 3s, 6s and 9s between them.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, Delay: 3 * time.Second, Backoff: BackoffLinear}

// wait returns the pause after the given failed attempt (1-based).
func (p RetryPolicy) wait(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if p.Backoff == BackoffLinear {
		return p.Delay * time.Duration(attempt)
	}
	return p.Delay
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// ParseBackoff validates a backoff name.
func ParseBackoff(s string) (Backoff, error) {
	switch b := Backoff(strings.ToLower(strings.TrimSpace(s))); b {
	case BackoffFixed, BackoffLinear:
		return b, nil
	case "":
		return BackoffLinear, nil
	default:
		return "", fmt.Errorf("unknown backoff %q (want fixed or linear)", s)
	}
}

// Client generates text with one selected model and retries transient failures.
type Client struct {
	provider Provider
	model    string
	policy   RetryPolicy
	sleep    func(ctx context.Context, d time.Duration) error
}

// New probes the candidate models in order and returns a client bound to the
// first one that answers. It fails if none do.
func New(ctx context.Context, p Provider, models []string, policy RetryPolicy) (*Client, error) {
	model, err := SelectModel(ctx, p, models)
	if err != nil {
		return nil, err
	}
	return NewWithModel(p, model, policy), nil
}

// NewWithModel returns a client for a known model without probing it.
func NewWithModel(p Provider, model string, policy RetryPolicy) *Client {
	return &Client{provider: p, model: model, policy: policy, sleep: sleepCtx}
}

// Model returns the model identifier the client sends requests to.
func (c *Client) Model() string { return c.model }

const probePrompt = "Reply with the single word OK."

// SelectModel sends a minimal request to each model and returns the first
// that succeeds.
func SelectModel(ctx context.Context, p Provider, models []string) (string, error) {
	var errs []error
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, err := p.GenerateContent(ctx, m, probePrompt); err != nil {
			slog.Warn("model probe failed", "provider", p.Name(), "model", m, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", m, err))
			continue
		}
		slog.Info("model selected", "provider", p.Name(), "model", m)
		return m, nil
	}
	if len(errs) == 0 {
		return "", errors.New("no model configured")
	}
	return "", fmt.Errorf("no usable model: %w", errors.Join(errs...))
}

// Ping checks that the selected model still answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.provider.GenerateContent(ctx, c.model, probePrompt)
	return err
}

// Generate sends the prompt, repeating rate-limited, unavailable and network
// failures up to the policy's attempt budget. Every failure is returned as a
// *FatalError.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	maxAttempts := c.policy.attempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := c.provider.GenerateContent(ctx, c.model, prompt)
		if err == nil {
			if attempt > 1 {
				slog.Info("model request recovered", "model", c.model, "attempt", attempt)
			}
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", &FatalError{Attempts: attempt, Err: ctxErr}
		}
		if !retryable(err) {
			return "", &FatalError{Attempts: attempt, Err: err}
		}
		lastErr = &TransientError{Attempt: attempt, Err: err}
		if attempt == maxAttempts {
			break
		}
		wait := c.policy.wait(attempt)
		slog.Warn("model request failed, retrying",
			"model", c.model,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"retry_in_ms", wait.Milliseconds(),
			"error", err,
		)
		if err := c.sleep(ctx, wait); err != nil {
			return "", &FatalError{Attempts: attempt, Err: err}
		}
	}
	slog.Error("model request failed", "model", c.model, "attempts", maxAttempts, "error", lastErr)
	return "", &FatalError{Attempts: maxAttempts, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewProvider builds a provider by name ("gemini" or "openai").
func NewProvider(name, baseURL, apiKey string, sampling Sampling, timeout time.Duration) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "gemini", "":
		return NewGemini(baseURL, apiKey, sampling, timeout), nil
	case "openai":
		return NewOpenAI(baseURL, apiKey, sampling, timeout), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want gemini or openai)", name)
	}
}
