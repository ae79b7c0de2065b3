package facade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

var _ port.StorageFacade = (*HTTPWarehouse)(nil)

// WarehouseConfig describes one HTTP warehouse system.
type WarehouseConfig struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
	// Categories the warehouse stores. Empty means every category.
	Categories []domain.ItemCategory `json:"categories,omitempty"`
	// Locations the warehouse owns; order lines are routed by these.
	Locations []string `json:"locations"`
}

// HTTPWarehouse talks to a warehouse management system over a small JSON API:
//
//	POST   /items
//	POST   /orders
//	PUT    /orders/{host}/{order_id}
//	DELETE /orders/{host}/{order_id}
type HTTPWarehouse struct {
	cfg    WarehouseConfig
	client *http.Client
	logger *zap.Logger
}

func NewHTTPWarehouse(cfg WarehouseConfig, client *http.Client, logger *zap.Logger) *HTTPWarehouse {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPWarehouse{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "http_warehouse"), zap.String("facade", cfg.Name)),
	}
}

func (w *HTTPWarehouse) Name() string {
	return w.cfg.Name
}

func (w *HTTPWarehouse) CanHandleItem(item domain.Item) bool {
	return len(w.cfg.Categories) == 0 || slices.Contains(w.cfg.Categories, item.ItemCategory)
}

func (w *HTTPWarehouse) CanHandleLocation(location string) bool {
	return slices.Contains(w.cfg.Locations, location)
}

func (w *HTTPWarehouse) CreateItem(ctx context.Context, item domain.Item) error {
	return w.do(ctx, http.MethodPost, "/items", item, nil)
}

func (w *HTTPWarehouse) CreateOrder(ctx context.Context, order domain.Order) error {
	return w.do(ctx, http.MethodPost, "/orders", order, nil)
}

// UpdateOrder returns the order as the warehouse reports it, or order itself
// when the warehouse answers without a body.
func (w *HTTPWarehouse) UpdateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	var updated domain.Order
	if err := w.do(ctx, http.MethodPut, orderPath(order.Key()), order, &updated); err != nil {
		return domain.Order{}, err
	}
	if updated.HostOrderID == "" {
		return order, nil
	}
	return updated, nil
}

// DeleteOrder treats an unknown order as deleted.
func (w *HTTPWarehouse) DeleteOrder(ctx context.Context, key domain.OrderKey) error {
	err := w.do(ctx, http.MethodDelete, orderPath(key), nil, nil)
	if err == nil || isNotFound(err) {
		return nil
	}
	return err
}

func orderPath(key domain.OrderKey) string {
	return "/orders/" + url.PathEscape(key.HostName) + "/" + url.PathEscape(key.HostOrderID)
}

// statusError keeps the response code for callers that treat some codes as success.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (w *HTTPWarehouse) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", domain.ErrStorageSystem, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrStorageSystem, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrStorageSystem, method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("%w: decode response: %v", domain.ErrStorageSystem, err)
			}
		}
		return nil
	}

	cause := &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	w.logger.Debug("warehouse rejected request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	switch resp.StatusCode {
	case http.StatusConflict:
		return fmt.Errorf("%w: %s %s: %w", domain.ErrDuplicateResource, method, path, cause)
	case http.StatusNotImplemented:
		return fmt.Errorf("%w: %s %s: %w", domain.ErrNotSupported, method, path, cause)
	default:
		return fmt.Errorf("%w: %s %s: %w", domain.ErrStorageSystem, method, path, cause)
	}
}
