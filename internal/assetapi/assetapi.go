// Package assetapi is a client for the authoritative asset API validator
// nodes independently re-verify off-chain state against, per spec.md §6.
package assetapi

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
	defaultTimeout = 10 * time.Second
	maxAttempts    = 4
)

// Asset is one entry of a snapshot or batch response. currentValue is a
// decimal string scaled to 18 fractional digits, matching the wire format
// internal/attestation.ParseFixed18 parses.
type Asset struct {
	AssetID     string `json:"assetId"`
	Category    string `json:"category"`
	IssuerName  string `json:"issuerName"`
	CurrentValue string `json:"currentValue"`
	LastUpdated string `json:"lastUpdated"`
}

// Snapshot is the response shape of GET /v1/assets/snapshot.
type Snapshot struct {
	SnapshotID string  `json:"snapshotId"`
	Timestamp  string  `json:"timestamp"`
	Assets     []Asset `json:"assets"`
	TotalValue string  `json:"totalValue"`
	StateHash  string  `json:"stateHash"`
}

type batchRequest struct {
	AssetIDs []string `json:"assetIds"`
}

type batchResponse struct {
	Assets []Asset `json:"assets"`
}

type verifyRequest struct {
	StateHash string `json:"stateHash"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// Client talks to one authoritative asset API deployment.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	metrics    obsmetrics.HTTPCallMetrics
	log        log.Logger
}

func New(baseURL, token string, timeout time.Duration, logger log.Logger) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    obsmetrics.NewHTTPCallMetrics("assetapi"),
		log:        logger,
	}
}

// Snapshot fetches the current authoritative asset snapshot.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	raw, err := c.do(ctx, "GET", "/v1/assets/snapshot", nil)
	if err != nil {
		return nil, fmt.Errorf("assetapi: Snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("assetapi: Snapshot: decode response: %w", err)
	}
	return &snap, nil
}

// Batch fetches a subset of assets by id, used when a validator only needs
// to recheck the assets a specific attestation references.
func (c *Client) Batch(ctx context.Context, assetIDs []string) ([]Asset, error) {
	raw, err := c.do(ctx, "POST", "/v1/assets/batch", batchRequest{AssetIDs: assetIDs})
	if err != nil {
		return nil, fmt.Errorf("assetapi: Batch: %w", err)
	}
	var resp batchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("assetapi: Batch: decode response: %w", err)
	}
	return resp.Assets, nil
}

// VerifyStateHash asks the authoritative API to confirm stateHash commits
// to a snapshot it actually produced. A validator must reject an
// attestation whenever this call fails or returns valid=false.
func (c *Client) VerifyStateHash(ctx context.Context, stateHash string) (bool, error) {
	raw, err := c.do(ctx, "POST", "/v1/state/verify", verifyRequest{StateHash: stateHash})
	if err != nil {
		return false, fmt.Errorf("assetapi: VerifyStateHash: %w", err)
	}
	var resp verifyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, fmt.Errorf("assetapi: VerifyStateHash: decode response: %w", err)
	}
	return resp.Valid, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
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
			lastErr = fmt.Errorf("%s %s returned http %d: %s", method, path, status, string(respBody))
		}
		c.metrics.IncError(status, path)

		shouldRetry, mult := retry.Classify(status)
		if !shouldRetry || attempt == maxAttempts-1 {
			return nil, lastErr
		}
		c.metrics.IncRetry(status, path)
		delay := retry.Delay(attempt, mult)
		c.log.Debug("asset api request retry", "method", method, "path", path, "attempt", attempt+1, "status", status, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
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
