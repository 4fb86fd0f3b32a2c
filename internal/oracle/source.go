// Package oracle implements the price-oracle pipeline spec.md §4.5
// describes: a primary no-auth AMM quote source and a JWT-authenticated
// ticker fallback behind one PriceSource interface, divergence-blocked
// cross-source averaging, bounds-checked publication, and a circuit
// breaker.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/golang-jwt/jwt/v4"

	"github.com/ligun0805/ctn-bridge/internal/obsmetrics"
	"github.com/ligun0805/ctn-bridge/internal/retry"
)

const (
	defaultTimeout = 10 * time.Second
	maxAttempts    = 3
)

// PriceSource fetches symbol's current price, letting Pipeline treat the
// AMM quote endpoint and the JWT ticker identically, the way the teacher's
// classifyRelays dispatches over heterogeneous relay kinds behind one
// interface.
type PriceSource interface {
	Name() string
	FetchPrice(ctx context.Context, symbol string) (float64, error)
}

func doJSON(ctx context.Context, client *http.Client, metrics obsmetrics.HTTPCallMetrics, logger log.Logger, method, url string, headers map[string]string, body any) ([]byte, error) {
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
		respBody, status, err := doAttempt(ctx, client, method, url, headers, bodyBytes)
		metrics.ObserveDuration(method, url, time.Since(start))
		if err == nil && status >= 200 && status < 300 {
			return respBody, nil
		}
		if err != nil {
			lastErr = err
			status = 0
		} else {
			lastErr = fmt.Errorf("%s %s returned http %d: %s", method, url, status, string(respBody))
		}
		metrics.IncError(status, url)

		shouldRetry, mult := retry.Classify(status)
		if !shouldRetry || attempt == maxAttempts-1 {
			return nil, lastErr
		}
		metrics.IncRetry(status, url)
		delay := retry.Delay(attempt, mult)
		logger.Debug("price source request retry", "url", url, "attempt", attempt+1, "status", status, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

func doAttempt(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
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

// AMMSource quotes a symbol against a no-auth AMM endpoint
// (GET {baseURL}/quote?symbol=...), spec.md §4.5's primary source.
type AMMSource struct {
	baseURL    string
	httpClient *http.Client
	metrics    obsmetrics.HTTPCallMetrics
	log        log.Logger
}

func NewAMMSource(baseURL string, logger log.Logger) *AMMSource {
	return &AMMSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		metrics:    obsmetrics.NewHTTPCallMetrics("oracle-amm"),
		log:        logger,
	}
}

func (s *AMMSource) Name() string { return "amm" }

type ammQuoteResponse struct {
	Price float64 `json:"price"`
}

func (s *AMMSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	url := fmt.Sprintf("%s/quote?symbol=%s", s.baseURL, symbol)
	raw, err := doJSON(ctx, s.httpClient, s.metrics, s.log, "GET", url, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("oracle: amm FetchPrice(%s): %w", symbol, err)
	}
	var resp ammQuoteResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("oracle: amm FetchPrice(%s): decode response: %w", symbol, err)
	}
	if resp.Price <= 0 {
		return 0, fmt.Errorf("oracle: amm FetchPrice(%s): non-positive price %v", symbol, resp.Price)
	}
	return resp.Price, nil
}

// JWTSource quotes a symbol against an authenticated ticker endpoint
// (GET {baseURL}/ticker?symbol=...), authorizing each request with a
// freshly signed short-lived HS256 token, the fallback source spec.md
// §4.5 names.
type JWTSource struct {
	baseURL    string
	secret     []byte
	httpClient *http.Client
	metrics    obsmetrics.HTTPCallMetrics
	log        log.Logger
}

func NewJWTSource(baseURL, secret string, logger log.Logger) *JWTSource {
	return &JWTSource{
		baseURL:    baseURL,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: defaultTimeout},
		metrics:    obsmetrics.NewHTTPCallMetrics("oracle-jwt-ticker"),
		log:        logger,
	}
}

func (s *JWTSource) Name() string { return "jwt-ticker" }

type tickerResponse struct {
	Price float64 `json:"price"`
}

func (s *JWTSource) token(now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(time.Minute)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *JWTSource) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	tok, err := s.token(time.Now())
	if err != nil {
		return 0, fmt.Errorf("oracle: jwt FetchPrice(%s): sign token: %w", symbol, err)
	}
	url := fmt.Sprintf("%s/ticker?symbol=%s", s.baseURL, symbol)
	raw, err := doJSON(ctx, s.httpClient, s.metrics, s.log, "GET", url, map[string]string{"Authorization": "Bearer " + tok}, nil)
	if err != nil {
		return 0, fmt.Errorf("oracle: jwt FetchPrice(%s): %w", symbol, err)
	}
	var resp tickerResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("oracle: jwt FetchPrice(%s): decode response: %w", symbol, err)
	}
	if resp.Price <= 0 {
		return 0, fmt.Errorf("oracle: jwt FetchPrice(%s): non-positive price %v", symbol, resp.Price)
	}
	return resp.Price, nil
}
