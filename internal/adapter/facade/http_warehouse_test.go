package facade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stockbridge/internal/core/domain"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

type fakeWarehouse struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	reply    any
}

func (f *fakeWarehouse) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.EscapedPath(), Auth: r.Header.Get("Authorization"), Body: body})
	status, reply := f.status, f.reply
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if reply != nil {
		_ = json.NewEncoder(w).Encode(reply)
	}
}

func (f *fakeWarehouse) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestWarehouse(t *testing.T, fake *fakeWarehouse) *HTTPWarehouse {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	return NewHTTPWarehouse(WarehouseConfig{
		Name:       "synq",
		BaseURL:    server.URL + "/",
		Token:      "secret",
		Categories: []domain.ItemCategory{domain.ItemCategoryPaper, domain.ItemCategoryFilm},
		Locations:  []string{"SYNQ_WAREHOUSE"},
	}, server.Client(), nil)
}

func sampleOrder() domain.Order {
	return domain.Order{
		HostName:      "AXIELL",
		HostOrderID:   "order 1",
		Status:        domain.OrderStatusNotStarted,
		OrderType:     domain.OrderTypeLoan,
		ContactPerson: "Kari",
		Lines:         []domain.OrderLine{{HostID: "mlt-1", Status: domain.LineStatusNotStarted}},
	}
}

func TestHTTPWarehouse_Routing(t *testing.T) {
	w := NewHTTPWarehouse(WarehouseConfig{
		Name:       "synq",
		Categories: []domain.ItemCategory{domain.ItemCategoryPaper},
		Locations:  []string{"SYNQ_WAREHOUSE"},
	}, nil, nil)

	assert.True(t, w.CanHandleItem(domain.Item{ItemCategory: domain.ItemCategoryPaper}))
	assert.False(t, w.CanHandleItem(domain.Item{ItemCategory: domain.ItemCategoryFilm}))
	assert.True(t, w.CanHandleLocation("SYNQ_WAREHOUSE"))
	assert.False(t, w.CanHandleLocation("KARDEX"))

	all := NewHTTPWarehouse(WarehouseConfig{Name: "any"}, nil, nil)
	assert.True(t, all.CanHandleItem(domain.Item{ItemCategory: domain.ItemCategoryDisc}))
}

func TestHTTPWarehouse_CreateItem(t *testing.T) {
	fake := &fakeWarehouse{status: http.StatusCreated}
	w := newTestWarehouse(t, fake)

	err := w.CreateItem(context.Background(), domain.Item{HostName: "AXIELL", HostID: "mlt-1", ItemCategory: domain.ItemCategoryFilm})
	require.NoError(t, err)

	req := fake.last(t)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/items", req.Path)
	assert.Equal(t, "Bearer secret", req.Auth)
	assert.Equal(t, "mlt-1", req.Body["host_id"])
}

func TestHTTPWarehouse_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "conflict is duplicate", status: http.StatusConflict, want: domain.ErrDuplicateResource},
		{name: "not implemented is not supported", status: http.StatusNotImplemented, want: domain.ErrNotSupported},
		{name: "bad request is storage error", status: http.StatusBadRequest, want: domain.ErrStorageSystem},
		{name: "server error is storage error", status: http.StatusInternalServerError, want: domain.ErrStorageSystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newTestWarehouse(t, &fakeWarehouse{status: tt.status})
			err := w.CreateOrder(context.Background(), sampleOrder())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPWarehouse_UpdateOrder(t *testing.T) {
	reported := sampleOrder()
	reported.Status = domain.OrderStatusInProgress
	fake := &fakeWarehouse{reply: reported}
	w := newTestWarehouse(t, fake)

	updated, err := w.UpdateOrder(context.Background(), sampleOrder())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusInProgress, updated.Status)

	req := fake.last(t)
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/orders/AXIELL/order%201", req.Path)
}

func TestHTTPWarehouse_UpdateOrderWithoutBody(t *testing.T) {
	w := newTestWarehouse(t, &fakeWarehouse{status: http.StatusNoContent})

	order := sampleOrder()
	updated, err := w.UpdateOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, order.Key(), updated.Key())
}

func TestHTTPWarehouse_DeleteUnknownOrder(t *testing.T) {
	w := newTestWarehouse(t, &fakeWarehouse{status: http.StatusNotFound})
	assert.NoError(t, w.DeleteOrder(context.Background(), sampleOrder().Key()))

	w = newTestWarehouse(t, &fakeWarehouse{status: http.StatusBadGateway})
	assert.ErrorIs(t, w.DeleteOrder(context.Background(), sampleOrder().Key()), domain.ErrStorageSystem)
}

func TestHTTPWarehouse_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	w := NewHTTPWarehouse(WarehouseConfig{Name: "slow", BaseURL: server.URL}, server.Client(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.CreateItem(ctx, domain.Item{HostName: "AXIELL", HostID: "mlt-1"})
	require.ErrorIs(t, err, domain.ErrStorageSystem)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
