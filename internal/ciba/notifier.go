package ciba

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultNotifyTimeout acota cada callback ping/push.
const DefaultNotifyTimeout = 5 * time.Second

// Notifier entrega el callback ping/push al endpoint del cliente.
type Notifier interface {
	Notify(ctx context.Context, url, bearer string, body any) error
}

// HTTPNotifier hace un POST JSON con Authorization: Bearer <client_notification_token>.
// Un intento por llamada; reintentar es responsabilidad del caller.
type HTTPNotifier struct {
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPNotifier(timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	return &HTTPNotifier{Client: &http.Client{Timeout: timeout}, Timeout: timeout}
}

func (n *HTTPNotifier) Notify(ctx context.Context, url, bearer string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	hc := n.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
