// Package courier implements the agent-side half of webhook delivery (spec
// §4.6): agent-mode subscriptions (non-empty target_labels) are delivered
// by the matching agent rather than the broker, since the broker never
// hands a subscriber's URL to an agent (the URL stays encrypted broker-side
// the same way internal/broker/webhooks.Deliverer never exposes it over the
// wire). The agent instead relays the payload to a locally configured
// listener — grounded on the broker Deliverer's POST-and-classify shape.
package courier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brokkr-io/brokkr/internal/protocol"
)

// Courier posts claimed agent-mode deliveries to a local relay endpoint.
type Courier struct {
	relayURL string
	client   *http.Client
}

// New builds a Courier. An empty relayURL makes every delivery fail with a
// clear message rather than silently dropping payloads.
func New(relayURL string, client *http.Client) *Courier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Courier{relayURL: relayURL, client: client}
}

// Deliver POSTs one claimed delivery's payload to the configured relay.
func (c *Courier) Deliver(ctx context.Context, delivery protocol.PendingDeliveryView) error {
	if c.relayURL == "" {
		return fmt.Errorf("courier: no local_relay_url configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader([]byte(delivery.PayloadJSON)))
	if err != nil {
		return fmt.Errorf("courier: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Brokkr-Event-Type", delivery.EventType)
	req.Header.Set("X-Brokkr-Delivery-Id", delivery.ID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("courier: relay request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("courier: relay returned HTTP %d", resp.StatusCode)
	}
	return nil
}
