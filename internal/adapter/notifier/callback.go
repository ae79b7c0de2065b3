package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

var _ port.Notifier = (*Callback)(nil)

// Callback posts item and order changes to the callback URL the host gave
// with the entity. Entities without a callback URL are skipped.
type Callback struct {
	client *http.Client
}

func NewCallback(client *http.Client) *Callback {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Callback{client: client}
}

type itemCallback struct {
	EventID string      `json:"event_id"`
	Item    domain.Item `json:"item"`
}

type orderCallback struct {
	EventID string       `json:"event_id"`
	Order   domain.Order `json:"order"`
}

// OrderCreated is not reported back; the host placed the order itself.
func (c *Callback) OrderCreated(context.Context, string, domain.Order, []domain.Item) error {
	return nil
}

func (c *Callback) ItemChanged(ctx context.Context, key string, item domain.Item) error {
	if item.CallbackURL == "" {
		return nil
	}
	return c.post(ctx, item.CallbackURL, key, itemCallback{EventID: key, Item: item})
}

func (c *Callback) OrderChanged(ctx context.Context, key string, order domain.Order) error {
	if order.CallbackURL == "" {
		return nil
	}
	return c.post(ctx, order.CallbackURL, key, orderCallback{EventID: key, Order: order})
}

func (c *Callback) post(ctx context.Context, url, key string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback %s: status %d", url, resp.StatusCode)
	}
	return nil
}
