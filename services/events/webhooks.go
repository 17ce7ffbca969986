package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"sublarr/models"
)

const (
	webhookTimeout  = 10 * time.Second
	webhookAttempts = 3
)

// WebhookDispatcher POSTs every bus event as JSON to the user-configured
// URLs. Deliveries run off the publisher's goroutine; 5xx responses are
// retried with exponential backoff, then given up.
type WebhookDispatcher struct {
	urls  func() []string
	httpc *http.Client
}

// NewWebhookDispatcher creates the dispatcher and subscribes it to the bus.
func NewWebhookDispatcher(bus *Bus, urls func() []string) *WebhookDispatcher {
	d := &WebhookDispatcher{
		urls:  urls,
		httpc: &http.Client{Timeout: webhookTimeout},
	}
	bus.Subscribe(Wildcard, d.handle)
	return d
}

func (d *WebhookDispatcher) handle(event models.Event) {
	targets := d.urls()
	if len(targets) == 0 {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[webhooks] marshal event %s: %v", event.Type, err)
		return
	}
	for _, url := range targets {
		go d.deliver(url, event.Type, payload)
	}
}

func (d *WebhookDispatcher) deliver(url string, t models.EventType, payload []byte) {
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := d.httpc.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return fmt.Errorf("webhook %s returned %d", url, resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				// Client errors will not improve on retry.
				return retry.Unrecoverable(fmt.Errorf("webhook %s returned %d", url, resp.StatusCode))
			}
			return nil
		},
		retry.Attempts(webhookAttempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Printf("[webhooks] delivery of %s to %s failed: %v", t, url, err)
	}
}
