package alert

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
	maxAttempts    = 3
	apiBase        = "https://api.telegram.org"
)

// TelegramSink posts to a bot's sendMessage endpoint. The Telegram Bot API
// is a plain JSON/HTTP call, so this reuses the same retry-classified
// do/attempt shape every other outbound client in the repo uses
// (internal/assetapi.Client) rather than pulling in a dedicated SDK — the
// retrieved pack carries no third-party Telegram client to ground one on.
type TelegramSink struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client
	metrics    obsmetrics.HTTPCallMetrics
	log        log.Logger
}

func NewTelegramSink(botToken, chatID string, logger log.Logger) *TelegramSink {
	return &TelegramSink{
		botToken:   botToken,
		chatID:     chatID,
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: defaultTimeout},
		metrics:    obsmetrics.NewHTTPCallMetrics("alert-telegram"),
		log:        logger,
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (s *TelegramSink) Notify(ctx context.Context, severity Severity, message string) error {
	path := fmt.Sprintf("/bot%s/sendMessage", s.botToken)
	body, err := json.Marshal(sendMessageRequest{
		ChatID: s.chatID,
		Text:   fmt.Sprintf("[%s] %s", severity, message),
	})
	if err != nil {
		return fmt.Errorf("alert: marshal telegram payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		status, respBody, err := s.attempt(ctx, path, body)
		s.metrics.ObserveDuration("POST", path, time.Since(start))
		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		if err != nil {
			lastErr = err
			status = 0
		} else {
			lastErr = fmt.Errorf("telegram sendMessage returned http %d: %s", status, string(respBody))
		}
		s.metrics.IncError(status, path)

		shouldRetry, mult := retry.Classify(status)
		if !shouldRetry || attempt == maxAttempts-1 {
			return lastErr
		}
		s.metrics.IncRetry(status, path)
		delay := retry.Delay(attempt, mult)
		s.log.Debug("telegram alert retry", "attempt", attempt+1, "status", status, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (s *TelegramSink) attempt(ctx context.Context, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", s.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}
