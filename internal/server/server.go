package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer wraps a gRPC server, its listener and the health service.
type GRPCServer struct {
	Server   *grpc.Server
	Listener net.Listener
	Health   *health.Server
}

func NewGRPCServer(addr string, logger *slog.Logger) (*GRPCServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary(logger)))
	reflection.Register(s)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	return &GRPCServer{Server: s, Listener: ln, Health: hs}, nil
}

func (s *GRPCServer) Serve() error {
	return s.Server.Serve(s.Listener)
}

// SetServing flips the overall health status reported to grpc health checks.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.Health.SetServingStatus("", status)
}

func (s *GRPCServer) Stop() {
	s.Health.Shutdown()
	s.Server.GracefulStop()
}

func logUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("rpc failed", "method", info.FullMethod, "duration", time.Since(start), "error", err)
			return resp, err
		}
		logger.Debug("rpc", "method", info.FullMethod, "duration", time.Since(start))
		return resp, nil
	}
}
