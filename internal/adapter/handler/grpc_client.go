package handler

import (
	"context"

	"google.golang.org/grpc"

	"github.com/rl1809/stockbridge/internal/core/domain"
)

// HostClient calls the host service over an existing connection.
type HostClient struct {
	conn grpc.ClientConnInterface
}

func NewHostClient(conn grpc.ClientConnInterface) *HostClient {
	return &HostClient{conn: conn}
}

func (c *HostClient) CreateItem(ctx context.Context, req *CreateItemRequest) (*domain.Item, error) {
	return invoke[domain.Item](ctx, c.conn, "CreateItem", req)
}

func (c *HostClient) GetItem(ctx context.Context, req *ItemKeyRequest) (*domain.Item, error) {
	return invoke[domain.Item](ctx, c.conn, "GetItem", req)
}

func (c *HostClient) SynchronizeStock(ctx context.Context, req *SynchronizeStockRequest) (*domain.Item, error) {
	return invoke[domain.Item](ctx, c.conn, "SynchronizeStock", req)
}

func (c *HostClient) PickItem(ctx context.Context, req *PickItemRequest) (*domain.Item, error) {
	return invoke[domain.Item](ctx, c.conn, "PickItem", req)
}

func (c *HostClient) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error) {
	return invoke[domain.Order](ctx, c.conn, "CreateOrder", req)
}

func (c *HostClient) GetOrder(ctx context.Context, req *OrderKeyRequest) (*domain.Order, error) {
	return invoke[domain.Order](ctx, c.conn, "GetOrder", req)
}

func (c *HostClient) UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*domain.Order, error) {
	return invoke[domain.Order](ctx, c.conn, "UpdateOrder", req)
}

func (c *HostClient) DeleteOrder(ctx context.Context, req *OrderKeyRequest) error {
	_, err := invoke[Empty](ctx, c.conn, "DeleteOrder", req)
	return err
}

func (c *HostClient) UpdateLineStatus(ctx context.Context, req *UpdateLineStatusRequest) (*domain.Order, error) {
	return invoke[domain.Order](ctx, c.conn, "UpdateLineStatus", req)
}

func invoke[Resp any](ctx context.Context, conn grpc.ClientConnInterface, method string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := conn.Invoke(ctx, "/"+HostServiceName+"/"+method, req, resp, CallOption()); err != nil {
		return nil, err
	}
	return resp, nil
}
