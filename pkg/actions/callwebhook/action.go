// Package callwebhook provides the call_webhook action: an outbound HTTP request with
// bounded retries on transport errors and 5xx responses.
package callwebhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/protocol"
)

const (
	defaultTimeoutSeconds = 30
	defaultRetryDelayMs   = 500
	maxResponseBytes      = 1 << 20
)

var (
	// ErrHTTPServerError is returned when the endpoint keeps answering with 5xx.
	ErrHTTPServerError = errors.New("server error during HTTP request")
	// ErrHTTPClientError is returned for 4xx responses, which are never retried.
	ErrHTTPClientError = errors.New("client error during HTTP request")
)

type RetryConfig struct {
	Attempts int `json:"attempts" validate:"min=0,max=5"`
	DelayMs  int `json:"delay_ms" validate:"omitempty,min=100,max=30000"`
}

type Config struct {
	URL            string            `json:"url"             validate:"required,http_url"`
	Method         string            `json:"method"          validate:"omitempty,oneof=GET POST PUT PATCH DELETE get post put patch delete"`
	Headers        map[string]string `json:"headers"`
	Body           any               `json:"body"`
	TimeoutSeconds int               `json:"timeout_seconds" validate:"omitempty,min=1,max=120"`
	Retry          RetryConfig       `json:"retry"`
}

// Action calls an external HTTP endpoint.
type Action struct {
	client *http.Client
}

// NewAction creates the action. A nil client uses a fresh http.Client per call.
func NewAction(client *http.Client) *Action {
	return &Action{client: client}
}

func (a *Action) Execute(ctx context.Context, config map[string]any, actionCtx *models.ActionContext, logger *slog.Logger) (map[string]any, error) {
	var cfg Config

	err := protocol.DecodeConfig(config, &cfg)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	body, err := encodeBody(cfg.Body)
	if err != nil {
		return nil, err
	}

	logger = logger.With("action_type", models.ActionCallWebhook, "method", method, "url", cfg.URL)

	client := a.httpClient(cfg)

	var result map[string]any

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create http request: %w", err))
		}

		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}

		req.Header.Set("X-Siteflow-Execution-Id", actionCtx.ExecutionID)

		for key, value := range cfg.Headers {
			req.Header.Set(key, value)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}

			return fmt.Errorf("http request failed: %w", err)
		}

		result, err = processResponse(ctx, resp, logger)
		if err != nil {
			return backoff.Permanent(err)
		}

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: status %d", ErrHTTPServerError, resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			return backoff.Permanent(fmt.Errorf("%w: status %d", ErrHTTPClientError, resp.StatusCode))
		}

		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "Webhook call failed, retrying", "error", err, "wait", wait)
	}

	err = backoff.RetryNotify(operation, retryPolicy(ctx, cfg.Retry), notify)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Webhook call completed", "status_code", result["status_code"])

	return result, nil
}

func (a *Action) httpClient(cfg Config) *http.Client {
	if a.client != nil {
		return a.client
	}

	timeout := cfg.TimeoutSeconds
	if timeout == 0 {
		timeout = defaultTimeoutSeconds
	}

	return &http.Client{Timeout: time.Duration(timeout) * time.Second}
}

func retryPolicy(ctx context.Context, retry RetryConfig) backoff.BackOffContext {
	delay := retry.DelayMs
	if delay == 0 {
		delay = defaultRetryDelayMs
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(delay) * time.Millisecond
	policy.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retry.Attempts)), ctx)
}

func encodeBody(body any) ([]byte, error) {
	switch value := body.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(value), nil
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: body is not JSON encodable: %w", protocol.ErrInvalidConfig, err)
		}

		return encoded, nil
	}
}

func processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (map[string]any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)

		logger.DebugContext(ctx, "Response is not JSON, keeping it as string")
	}

	headers := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     headers,
	}, nil
}
