package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/pitabwire/flowbase/internal/config"
	"github.com/pitabwire/flowbase/internal/observability"
)

const defaultMaxResponseBytes = 1 << 20

// Webhook sends the resolved config of an action node to an HTTP endpoint.
//
// Recognised config keys:
//
//	url      target URL, required, http or https
//	method   HTTP method, POST when empty
//	headers  map of extra request headers
//	body     any JSON-encodable value sent as the request body
//
// The step output carries status_code and, when the response has one, body
// (decoded JSON, or the raw text when it is not JSON). Each host gets its own
// circuit breaker.
type Webhook struct {
	client           *http.Client
	logger           *zap.Logger
	maxResponseBytes int64
	breakerCfg       config.CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker // key: URL host
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		if c != nil {
			w.client = c
		}
	}
}

// WithWebhookLogger sets the logger.
func WithWebhookLogger(logger *zap.Logger) WebhookOption {
	return func(w *Webhook) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWebhook creates a webhook handler from cfg.
func NewWebhook(cfg config.WebhookConfig, opts ...WebhookOption) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	w := &Webhook{
		client:           &http.Client{Timeout: timeout},
		logger:           zap.NewNop(),
		maxResponseBytes: maxBytes,
		breakerCfg:       cfg.CircuitBreaker,
		breakers:         make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute performs the HTTP call. A 4xx or 5xx answer is an error; the
// status code is part of the message.
func (w *Webhook) Execute(ctx context.Context, cfg map[string]any) (out map[string]any, err error) {
	target, err := webhookURL(cfg)
	if err != nil {
		return nil, err
	}
	method := http.MethodPost
	if m, ok := cfg["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	ctx, span := observability.StartActionSpan(ctx, "webhook",
		semconv.HTTPRequestMethodKey.String(method),
		semconv.ServerAddress(target.Host),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var body io.Reader
	if b, ok := cfg["body"]; ok && b != nil {
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("webhook: encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	breaker := w.breaker(target.Host)
	if err := breaker.Allow(); err != nil {
		return nil, fmt.Errorf("webhook %s: %w", target.Host, err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		breaker.RecordFailure()
		return nil, fmt.Errorf("webhook %s: request failed: %w", target.Host, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, w.maxResponseBytes))
	if err != nil {
		breaker.RecordFailure()
		return nil, fmt.Errorf("webhook %s: read response: %w", target.Host, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		breaker.RecordFailure()
	} else {
		breaker.RecordSuccess()
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))

	out = map[string]any{"status_code": resp.StatusCode}
	if len(data) > 0 {
		var parsed any
		if json.Unmarshal(data, &parsed) == nil {
			out["body"] = parsed
		} else {
			out["body"] = string(data)
		}
	}

	w.logger.Debug("webhook delivered",
		zap.String("method", method),
		zap.String("host", target.Host),
		zap.Int("status", resp.StatusCode),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("webhook %s: unexpected status %d", target.Host, resp.StatusCode)
	}
	return out, nil
}

// BreakerState returns the state of the breaker for host, or BreakerClosed
// when no call to host has been made.
func (w *Webhook) BreakerState(host string) BreakerState {
	w.mu.Lock()
	b, ok := w.breakers[host]
	w.mu.Unlock()
	if !ok {
		return BreakerClosed
	}
	return b.State()
}

func (w *Webhook) breaker(host string) *Breaker {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.breakers[host]
	if !ok {
		b = NewBreaker(w.breakerCfg.FailureThreshold, w.breakerCfg.SuccessThreshold, w.breakerCfg.Timeout)
		w.breakers[host] = b
	}
	return b
}

func webhookURL(cfg map[string]any) (*url.URL, error) {
	raw, _ := cfg["url"].(string)
	if raw == "" {
		return nil, fmt.Errorf("webhook: url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("webhook: invalid url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook: url %q must be an absolute http or https url", raw)
	}
	return u, nil
}
