// Package ner provides the JSON-over-HTTP client for the named-entity
// recognition sidecar consumed by the detection pipeline.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/seclens/seclens-engine/pkg/apperrors"
	"github.com/seclens/seclens-engine/pkg/config"
	"github.com/seclens/seclens-engine/pkg/logging"
	"github.com/seclens/seclens-engine/pkg/models"
	"github.com/seclens/seclens-engine/pkg/retry"
)

// Entity is one recognized span within a sample value.
type Entity struct {
	Text  string  `json:"text"`
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

// Recognizer is the surface the detection pipeline consumes. Recognize
// returns one entity list per input sample, index-aligned with the input.
type Recognizer interface {
	Recognize(ctx context.Context, samples []string) ([][]Entity, error)
	Healthy(ctx context.Context) error
}

type nerRequest struct {
	Samples []string `json:"samples"`
}

type nerResponse struct {
	Results [][]Entity `json:"results"`
}

// Client calls the NER sidecar with fixed-delay retries and an optional
// circuit breaker. One client is shared by all scans so a dead sidecar is
// noticed once, not rediscovered per job.
type Client struct {
	httpClient *http.Client
	url        string
	healthURL  string
	maxSamples int
	retryCfg   *retry.Config
	breaker    *CircuitBreaker
	logger     *zap.Logger
}

var _ Recognizer = (*Client)(nil)

// NewClient creates a sidecar client from the given settings.
func NewClient(cfg models.NerConfig, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ner url is required")
	}
	endpoint := config.ResolveURLForDocker(cfg.URL)
	healthURL, err := deriveHealthURL(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid ner url %q: %w", cfg.URL, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var breaker *CircuitBreaker
	if cfg.CircuitBreaker {
		breaker = NewCircuitBreaker(DefaultCircuitBreakerConfig())
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        endpoint,
		healthURL:  healthURL,
		maxSamples: cfg.MaxSamples,
		retryCfg:   retry.FixedDelayConfig(cfg.RetryAttempts, delay),
		breaker:    breaker,
		logger:     logger.Named("ner"),
	}, nil
}

// Recognize posts the samples to the sidecar and returns its entity lists.
// Samples beyond the configured maximum are dropped, not batched; the
// detection strategy only needs a representative slice. All transport
// failures come back wrapped in apperrors.ErrNerUnavailable.
func (c *Client) Recognize(ctx context.Context, samples []string) ([][]Entity, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	if c.maxSamples > 0 && len(samples) > c.maxSamples {
		samples = samples[:c.maxSamples]
	}

	if c.breaker != nil {
		if ok, allowErr := c.breaker.Allow(); !ok {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrNerUnavailable, allowErr)
		}
	}

	var results [][]Entity
	err := retry.DoIfRetryable(ctx, c.retryCfg, func() error {
		r, postErr := c.post(ctx, samples)
		if postErr != nil {
			return postErr
		}
		results = r
		return nil
	})
	if err != nil {
		if c.breaker != nil {
			c.breaker.RecordFailure()
		}
		c.logger.Warn("NER request failed",
			zap.Int("samples", len(samples)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNerUnavailable, err)
	}
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
	return results, nil
}

// post performs a single recognition round trip.
func (c *Client) post(ctx context.Context, samples []string) ([][]Entity, error) {
	payload, err := json.Marshal(nerRequest{Samples: samples})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ner service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{status: resp.StatusCode, body: logging.TruncateString(string(body), 200)}
	}

	var decoded nerResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// The sidecar answers one entity list per sample. A mismatch means the
	// strategy's per-sample alignment is off, so it is worth a warning.
	if len(decoded.Results) != len(samples) {
		c.logger.Warn("NER response row count does not match sample count",
			zap.Int("samples", len(samples)),
			zap.Int("results", len(decoded.Results)))
	}

	c.logger.Debug("NER request completed",
		zap.Int("samples", len(samples)),
		zap.Duration("elapsed", time.Since(start)))

	return decoded.Results, nil
}

// Healthy probes the sidecar's health endpoint. Called once at startup so a
// missing sidecar is surfaced before the first scan quietly skips NER.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrNerUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health endpoint returned status %d", apperrors.ErrNerUnavailable, resp.StatusCode)
	}
	return nil
}

// BreakerState reports the circuit breaker state, CircuitClosed when the
// breaker is disabled.
func (c *Client) BreakerState() CircuitState {
	if c.breaker == nil {
		return CircuitClosed
	}
	return c.breaker.State()
}

// httpError carries the response status so retry classification can
// distinguish a missing endpoint from a struggling service.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("ner service returned status %d: %s", e.status, e.body)
}

// IsRetryable reports false for 404 so a misconfigured URL fails fast
// instead of burning the retry budget on every column.
func (e *httpError) IsRetryable() bool {
	switch {
	case e.status == http.StatusNotFound:
		return false
	case e.status == http.StatusTooManyRequests:
		return true
	case e.status >= 500:
		return true
	default:
		return false
	}
}

// deriveHealthURL swaps the recognition path for /health on the same host.
func deriveHealthURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url has no host")
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String(), nil
}
