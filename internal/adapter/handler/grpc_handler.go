package handler

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stockbridge/internal/core/domain"
)

const HostServiceName = "stockbridge.v1.HostService"

// HostServer is the gRPC surface hosts use to issue commands.
type HostServer interface {
	CreateItem(ctx context.Context, req *CreateItemRequest) (*domain.Item, error)
	GetItem(ctx context.Context, req *ItemKeyRequest) (*domain.Item, error)
	SynchronizeStock(ctx context.Context, req *SynchronizeStockRequest) (*domain.Item, error)
	PickItem(ctx context.Context, req *PickItemRequest) (*domain.Item, error)
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, req *OrderKeyRequest) (*domain.Order, error)
	UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*domain.Order, error)
	DeleteOrder(ctx context.Context, req *OrderKeyRequest) (*Empty, error)
	UpdateLineStatus(ctx context.Context, req *UpdateLineStatusRequest) (*domain.Order, error)
}

type GRPCHandler struct {
	items  ItemCommands
	orders OrderCommands
	logger *zap.Logger
}

func NewGRPCHandler(items ItemCommands, orders OrderCommands, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{items: items, orders: orders, logger: logger.With(zap.String("component", "grpc"))}
}

// NewGRPCServer builds a server with the host service and the standard
// health service registered.
func NewGRPCServer(h *GRPCHandler) *grpc.Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(h.logCalls),
	)
	srv.RegisterService(&hostServiceDesc, h)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HostServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

func (h *GRPCHandler) CreateItem(ctx context.Context, req *CreateItemRequest) (*domain.Item, error) {
	if err := validateRequest(req); err != nil {
		return nil, grpcError(err)
	}
	item, err := h.items.CreateItem(ctx, req.toDomain())
	if err != nil {
		return nil, grpcError(err)
	}
	return &item, nil
}

func (h *GRPCHandler) GetItem(ctx context.Context, req *ItemKeyRequest) (*domain.Item, error) {
	if err := validateRequest(req); err != nil {
		return nil, grpcError(err)
	}
	item, err := h.items.GetItem(ctx, req.key())
	if err != nil {
		return nil, grpcError(err)
	}
	return &item, nil
}

func (h *GRPCHandler) SynchronizeStock(ctx context.Context, req *SynchronizeStockRequest) (*domain.Item, error) {
	if err := validateRequest(req); err != nil {
		return nil, grpcError(err)
	}
	item, err := h.items.SynchronizeStock(ctx, req.key(), req.Quantity, req.Location)
	if err != nil {
		return nil, grpcError(err)
	}
	return &item, nil
}

func (h *GRPCHandler) PickItem(ctx context.Context, req *PickItemRequest) (*domain.Item, error) {
	if err := validateRequest(req); err != nil {
		return nil, grpcError(err)
	}
	item, err := h.items.PickItem(ctx, req.key(), req.Amount)
	if err != nil {
		return nil, grpcError(err)
	}
	return &item, nil
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, grpcError(err)
	}
	order, err := h.orders.CreateOrder(ctx, req.toDomain())
	if err != nil {
		return nil, grpcError(err)
	}
	return &order, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *OrderKeyRequest) (*domain.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, grpcError(err)
	}
	order, err := h.orders.GetOrder(ctx, req.key())
	if err != nil {
		return nil, grpcError(err)
	}
	return &order, nil
}

func (h *GRPCHandler) UpdateOrder(ctx context.Context, req *UpdateOrderRequest) (*domain.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, grpcError(err)
	}
	order, err := h.orders.UpdateOrder(ctx, req.toUpdate())
	if err != nil {
		return nil, grpcError(err)
	}
	return &order, nil
}

func (h *GRPCHandler) DeleteOrder(ctx context.Context, req *OrderKeyRequest) (*Empty, error) {
	if err := validateRequest(req); err != nil {
		return nil, grpcError(err)
	}
	if err := h.orders.DeleteOrder(ctx, req.key()); err != nil {
		return nil, grpcError(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) UpdateLineStatus(ctx context.Context, req *UpdateLineStatusRequest) (*domain.Order, error) {
	if err := validateRequest(req); err != nil {
		return nil, grpcError(err)
	}
	order, err := h.orders.UpdateLineStatus(ctx, req.key(), req.HostID, domain.LineStatus(req.Status))
	if err != nil {
		return nil, grpcError(err)
	}
	return &order, nil
}

func (h *GRPCHandler) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)

	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("elapsed", time.Since(start)),
	}
	if code := status.Code(err); code == codes.Internal || code == codes.Unknown {
		h.logger.Error("call failed", append(fields, zap.Error(err))...)
	} else {
		h.logger.Debug("call", append(fields, zap.String("code", code.String()))...)
	}
	return resp, err
}

func grpcError(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrDuplicateResource):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrIllegalState):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrConflict):
		code = codes.Aborted
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

var hostServiceDesc = grpc.ServiceDesc{
	ServiceName: HostServiceName,
	HandlerType: (*HostServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateItem", HostServer.CreateItem),
		unary("GetItem", HostServer.GetItem),
		unary("SynchronizeStock", HostServer.SynchronizeStock),
		unary("PickItem", HostServer.PickItem),
		unary("CreateOrder", HostServer.CreateOrder),
		unary("GetOrder", HostServer.GetOrder),
		unary("UpdateOrder", HostServer.UpdateOrder),
		unary("DeleteOrder", HostServer.DeleteOrder),
		unary("UpdateLineStatus", HostServer.UpdateLineStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stockbridge/v1/host",
}

func unary[Req, Resp any](method string, call func(HostServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + HostServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(HostServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(HostServer), ctx, req.(*Req))
			})
		},
	}
}
