// Package httpx is the shared outbound caller for both external systems.
// Every call is paced by the system's rate limiter, retried under the
// retry policy, carries a correlation id, and runs under a per-call
// deadline.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/pagesync/internal/ratelimit"
	"github.com/erauner12/pagesync/internal/retry"
)

const maxErrorBody = 512

// Client issues JSON API calls against one external system.
type Client struct {
	system  string
	baseURL string
	token   string
	http    *http.Client
	limiter *ratelimit.Limiter
	policy  retry.Policy
	headers map[string]string
}

// New builds a caller for one system. extra headers (API version pins and
// the like) are sent on every request.
func New(system, baseURL, token string, limiter *ratelimit.Limiter, policy retry.Policy, extra map[string]string) *Client {
	return &Client{
		system:  system,
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{},
		limiter: limiter,
		policy:  policy,
		headers: extra,
	}
}

// JSON performs one logical API call and decodes the response into out
// (which may be nil). timeout bounds each individual attempt.
func (c *Client) JSON(ctx context.Context, method, path string, query url.Values, body, out any, timeout time.Duration) error {
	correlationID := uuid.New().String()
	logger := log.With().
		Str("system", c.system).
		Str("method", method).
		Str("path", path).
		Str("correlationId", correlationID).
		Logger()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request body: %w", c.system, err)
		}
	}

	name := c.system + " " + method + " " + path
	return retry.Do(ctx, c.policy, name, func(ctx context.Context) error {
		return c.limiter.Execute(ctx, func(ctx context.Context) error {
			return c.attempt(ctx, &logger, correlationID, method, path, query, payload, out, timeout)
		})
	})
}

// attempt is a single paced HTTP exchange.
func (c *Client) attempt(ctx context.Context, logger *zerolog.Logger, correlationID, method, path string, query url.Values, payload []byte, out any, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.system, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", correlationID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		logger.Warn().Err(err).Dur("duration", duration).Msg("request failed")
		return fmt.Errorf("%s: %s %s: %w", c.system, method, u, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.system, err)
	}

	logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			logger.Warn().
				Str("retryAfter", resp.Header.Get("Retry-After")).
				Msg("rate limited by remote")
		}
		body := string(raw)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &retry.StatusError{System: c.system, Status: resp.StatusCode, URL: u, Body: body}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", c.system, err)
		}
	}
	return nil
}
