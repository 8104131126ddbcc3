package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mbd888/jobads/internal/retry"
)

// ErrCircuitOpen is returned while an endpoint's breaker is open.
var ErrCircuitOpen = errors.New("notify: circuit open")

// Signature headers sent with every webhook.
const (
	HeaderEvent     = "X-Jobads-Event"
	HeaderTimestamp = "X-Jobads-Timestamp"
	HeaderSignature = "X-Jobads-Signature"
)

// WebhookSink posts messages to operator endpoints, signed with
// HMAC-SHA256 over the body when a secret is configured.
type WebhookSink struct {
	urls      []string
	secret    string
	client    *http.Client
	breaker   *endpointBreaker
	attempts  int
	baseDelay time.Duration
}

// NewWebhookSink creates a sink for the given endpoints.
func NewWebhookSink(urls []string, secret string) *WebhookSink {
	return &WebhookSink{
		urls:      urls,
		secret:    secret,
		client:    &http.Client{Timeout: 10 * time.Second},
		breaker:   newEndpointBreaker(5, time.Minute),
		attempts:  3,
		baseDelay: 200 * time.Millisecond,
	}
}

func (w *WebhookSink) Name() string { return "webhook" }

// Send delivers msg to every endpoint and returns the joined failures.
func (w *WebhookSink) Send(ctx context.Context, msg *Message) error {
	payload, err := msg.payload()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var errs []error
	for _, url := range w.urls {
		if !w.breaker.allow(url) {
			errs = append(errs, fmt.Errorf("%s: %w", url, ErrCircuitOpen))
			continue
		}
		p := retry.Policy{Attempts: w.attempts, BaseDelay: w.baseDelay, MaxDelay: 5 * time.Second}
		err := p.Run(ctx, func() error {
			return w.post(ctx, url, msg, payload)
		})
		if err != nil {
			w.breaker.failed(url)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		w.breaker.succeeded(url)
	}
	return errors.Join(errs...)
}

func (w *WebhookSink) post(ctx context.Context, url string, msg *Message, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, msg.Type)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(msg.Timestamp.Unix(), 10))
	if w.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("status %d", resp.StatusCode)
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
