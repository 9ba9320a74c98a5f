package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultGeminiURL is the public generateContent endpoint host.
const DefaultGeminiURL = "https://generativelanguage.googleapis.com"

// Gemini calls the generateContent REST API.
type Gemini struct {
	baseURL  string
	apiKey   string
	sampling Sampling
	client   *http.Client
}

// NewGemini creates a Gemini provider. An empty baseURL selects the public endpoint.
func NewGemini(baseURL, apiKey string, sampling Sampling, timeout time.Duration) *Gemini {
	if baseURL == "" {
		baseURL = DefaultGeminiURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Gemini{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		sampling: sampling,
		client:   &http.Client{Timeout: timeout},
	}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) GenerateContent(ctx context.Context, model, prompt string) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	}
	if g.sampling.Temperature > 0 || g.sampling.MaxOutputTokens > 0 {
		payload.GenerationConfig = &geminiGenerationConfig{
			Temperature:     g.sampling.Temperature,
			MaxOutputTokens: g.sampling.MaxOutputTokens,
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("content-type", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return "", redactKey(err, g.apiKey)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("gemini error: %s - %s", resp.Status, string(errorBody))
	}
	var response geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode gemini response: %w", err)
	}
	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmpty
	}
	var buf strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		buf.WriteString(part.Text)
	}
	if strings.TrimSpace(buf.String()) == "" {
		return "", ErrEmpty
	}
	return buf.String(), nil
}

// redactKey keeps the API key out of *url.Error messages, which quote the URL.
func redactKey(err error, key string) error {
	var uerr *url.Error
	if key == "" || !errors.As(err, &uerr) {
		return err
	}
	uerr.URL = strings.ReplaceAll(uerr.URL, url.QueryEscape(key), "REDACTED")
	return uerr
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float32 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}
