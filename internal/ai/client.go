// Package ai implements the model-assisted extraction client.
//
// The client talks to an OpenAI-compatible chat-completions endpoint and
// asks for a single JSON object per call (response_format json_object).
// Two tasks are exposed:
//   - ExtractSignal:      free text → raw signal draft
//   - ExtractReplyAction: reply text + original signal → action
//
// Every request is rate-limited through a token bucket, guarded by a
// circuit breaker, automatically retried on transient failures (timeouts,
// connection errors, 429, 5xx), and fails fast on auth or bad-request
// rejections.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"

	"signal-relay/internal/config"
)

// ErrNonRetryable marks upstream rejections that retrying cannot fix:
// bad credentials, malformed requests, unknown routes.
var ErrNonRetryable = errors.New("non-retryable extraction error")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client is the extraction API client. It wraps a resty HTTP client with
// rate limiting, retry, and a circuit breaker.
type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker[string]
	rl      *TokenBucket
	model   string
	logger  *slog.Logger
}

// NewClient creates an extraction client from config. The per-attempt
// timeout applies to each retry individually.
func NewClient(cfg config.AIConfig, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.RetryBackoff).
		SetRetryMaxWaitTime(4 * cfg.RetryBackoff).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true // timeouts, connection resets
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "extraction-api",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("extraction api breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &Client{
		http:    httpClient,
		breaker: breaker,
		rl:      NewTokenBucket(cfg.RateBurst, cfg.RatePerSec),
		model:   cfg.Model,
		logger:  logger.With("component", "ai"),
	}
}

// complete runs one structured chat completion and returns the model's
// message content.
func (c *Client) complete(ctx context.Context, messages []chatMessage) (string, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return "", err
	}
	return c.breaker.Execute(func() (string, error) {
		return c.post(ctx, messages)
	})
}

func (c *Client) post(ctx context.Context, messages []chatMessage) (string, error) {
	var result chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:          c.model,
			Messages:       messages,
			ResponseFormat: responseFormat{Type: "json_object"},
		}).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusOK:
	case code == http.StatusBadRequest,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code == http.StatusNotFound:
		return "", fmt.Errorf("%w: status %d: %s", ErrNonRetryable, code, resp.String())
	default:
		return "", fmt.Errorf("chat completion: status %d: %s", code, resp.String())
	}

	if len(result.Choices) == 0 {
		return "", errors.New("chat completion: no choices in response")
	}
	return result.Choices[0].Message.Content, nil
}
