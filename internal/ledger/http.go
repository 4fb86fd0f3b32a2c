package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ligun0805/ctn-bridge/internal/obsmetrics"
	"github.com/ligun0805/ctn-bridge/internal/retry"
)

const (
	readMaxAttempts  = 4
	writeMaxAttempts = 1 // spec.md §7: writes are never retried
)

// opKind distinguishes read (idempotent, retried) from write (submit,
// never retried) L-API calls.
type opKind int

const (
	opRead opKind = iota
	opWrite
)

// QueryLimitError signals an active-contracts response that hit the
// per-request result cap — a distinct fatal condition the caller must not
// treat as a complete list.
type QueryLimitError struct {
	TemplateID TemplateID
	Limit      int
}

func (e *QueryLimitError) Error() string {
	return fmt.Sprintf("ledger: active-contracts query for %q returned the cap of %d entries (potentially truncated)", e.TemplateID, e.Limit)
}

// client is the low-level HTTP transport shared by all Ledger L calls.
// logf/metrics instrumentation mirrors how bundlecore's callWithRetry
// wraps go-ethereum RPC calls, generalized to classified HTTP retries and
// a read/write split.
type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	metrics    obsmetrics.HTTPCallMetrics
	log        log.Logger
}

func newClient(baseURL, token string, timeout time.Duration, logger log.Logger) *client {
	return &client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    obsmetrics.NewHTTPCallMetrics("ledger"),
		log:        logger,
	}
}

func (c *client) do(ctx context.Context, kind opKind, method, path string, body any) ([]byte, error) {
	maxAttempts := readMaxAttempts
	if kind == opWrite {
		maxAttempts = writeMaxAttempts
	}

	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ledger: marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		respBody, status, err := c.attempt(ctx, method, path, bodyBytes)
		c.metrics.ObserveDuration(method, path, time.Since(start))
		if err == nil && status >= 200 && status < 300 {
			return respBody, nil
		}
		if err != nil {
			lastErr = err
			status = 0
		} else {
			lastErr = fmt.Errorf("ledger: %s %s returned http %d: %s", method, path, status, string(respBody))
		}
		c.metrics.IncError(status, path)

		shouldRetry, mult := retry.Classify(status)
		if !shouldRetry || attempt == maxAttempts-1 {
			return nil, lastErr
		}
		c.metrics.IncRetry(status, path)
		delay := retry.Delay(attempt, mult)
		c.log.Debug("ledger request retry", "method", method, "path", path, "attempt", attempt+1, "status", status, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (c *client) attempt(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return raw, resp.StatusCode, nil
}
