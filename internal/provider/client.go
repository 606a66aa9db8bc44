// Package provider wraps the external LLM completion API that performs
// the actual website analysis. All calls funnel through a single-flight
// queue drained by one goroutine, so concurrent assessments share one
// rate budget and are serialized against the provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	backoffCap           = 60 * time.Second
	defaultSystemPrompt  = "You are a website optimization analyst. Respond with a single JSON object matching the requested fields; do not add commentary outside the JSON."
	statusClassTransient = 500
)

// Error is a provider failure carrying an HTTP-like status class.
// Status 0 means a transport-level failure (timeout, connection).
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("provider request failed: %s", e.Message)
	}
	return fmt.Sprintf("provider returned HTTP %d: %s", e.Status, e.Message)
}

// retryable reports whether the failure is worth another attempt:
// transport errors, 408/429, and 5xx. Other 4xx are permanent.
func (e *Error) retryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= statusClassTransient:
		return true
	}
	return false
}

// Config holds the provider call parameters.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Temperature    float64
	MaxTokens      int
	MaxRetries     int
	Timeout        time.Duration
	RetryBaseDelay time.Duration
	SystemPrompt   string
}

// Client is the analysis provider client. Create it with NewClient and
// start the drain loop with Run before calling Analyze.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    Limiter
	queue      chan *request
	logger     *slog.Logger
}

type request struct {
	ctx    context.Context
	prompt string
	reply  chan result
}

type result struct {
	text string
	err  error
}

// NewClient creates a Client. A nil limiter disables rate limiting.
func NewClient(cfg Config, limiter Limiter) *Client {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		limiter:    limiter,
		queue:      make(chan *request, 64),
		logger:     slog.Default(),
	}
}

// Run drains the request queue one call at a time until ctx is
// cancelled. Exactly one Run loop should be active per client.
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.drain(ctx.Err())
			return
		case req := <-c.queue:
			text, err := c.process(req)
			req.reply <- result{text: text, err: err}
		}
	}
}

// drain fails any queued requests after shutdown.
func (c *Client) drain(cause error) {
	for {
		select {
		case req := <-c.queue:
			req.reply <- result{err: cause}
		default:
			return
		}
	}
}

func (c *Client) process(req *request) (string, error) {
	if err := req.ctx.Err(); err != nil {
		return "", err
	}
	return c.completeWithRetry(req.ctx, req.prompt)
}

// Analyze submits a prompt through the queue and waits for the drained
// response. It returns *Error after retries are exhausted; the caller
// typically substitutes fallback content for the category.
func (c *Client) Analyze(ctx context.Context, prompt string) (string, error) {
	req := &request{ctx: ctx, prompt: prompt, reply: make(chan result, 1)}

	select {
	case c.queue <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) completeWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		// Every attempt consumes a rate-window slot, so retries stay
		// inside the same budget as fresh calls.
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return "", err
			}
		}

		text, err := c.complete(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err

		perr, ok := err.(*Error)
		if !ok || !perr.retryable() {
			return "", err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}

		backoff := c.cfg.RetryBaseDelay << attempt
		if backoff > backoffCap {
			backoff = backoffCap
		}
		c.logger.Warn("provider call failed, retrying",
			"attempt", attempt+1, "max_retries", c.cfg.MaxRetries, "backoff", backoff, "error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}
	return "", fmt.Errorf("provider call failed after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

// Chat-completions wire format.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model: c.cfg.Model,
		Messages: []message{
			{Role: "system", Content: c.cfg.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling completion request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var completion completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", &Error{Status: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", &Error{Status: resp.StatusCode, Message: "empty completion: response envelope has no choices content"}
	}

	return completion.Choices[0].Message.Content, nil
}
