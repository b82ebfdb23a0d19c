package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/alarmfox/perftest/internal/pbench"
	"github.com/alarmfox/perftest/internal/telemetry"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	DefaultMaxMsgSize = 10 * 1024 * 1024
	shutdownGrace     = 5 * time.Second
)

type Config struct {
	MaxMsgSize int
	Metrics    *telemetry.Metrics
}

// Server adapts pbench.Service to the PerformanceTest gRPC service.
type Server struct {
	service    *pbench.Service
	logger     *zap.Logger
	grpcServer *grpc.Server
	health     *health.Server
}

var _ PerformanceTestServer = (*Server)(nil)

func NewServer(service *pbench.Service, logger *zap.Logger, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxMsgSize <= 0 {
		cfg.MaxMsgSize = DefaultMaxMsgSize
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(cfg.MaxMsgSize),
		grpc.MaxSendMsgSize(cfg.MaxMsgSize),
		grpc.ChainUnaryInterceptor(cfg.Metrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(cfg.Metrics.StreamServerInterceptor()),
	)

	s := &Server{
		service:    service,
		logger:     logger,
		grpcServer: grpcServer,
		health:     health.NewServer(),
	}
	RegisterPerformanceTestServer(grpcServer, s)
	healthpb.RegisterHealthServer(grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Start listens on addr and serves until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then drains in-flight calls for a
// short grace period before closing them.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.health.Shutdown()

		done := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			s.grpcServer.Stop()
		}
	}()

	err := s.grpcServer.Serve(lis)
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	<-stopped
	s.logger.Info("grpc server stopped")
	return nil
}

func (s *Server) UnaryCall(ctx context.Context, req *pbench.TestRequest) (*pbench.TestResponse, error) {
	resp, err := s.service.Unary(ctx, req)
	return resp, toStatus(err)
}

func (s *Server) ServerStreaming(req *pbench.StreamRequest, stream ServerStreamingServer) error {
	err := s.service.ServerStream(stream.Context(), req, stream)
	if errors.Is(err, pbench.ErrTransportWrite) {
		s.logger.Debug("server stream aborted", zap.Error(err))
	}
	return toStatus(err)
}

func (s *Server) ClientStreaming(stream ClientStreamingServer) error {
	resp, err := s.service.ClientStream(stream.Context(), stream)
	if err != nil {
		return toStatus(err)
	}
	return stream.SendAndClose(resp)
}

func (s *Server) BidirectionalStreaming(stream BidirectionalStreamingServer) error {
	err := s.service.Bidi(stream.Context(), stream)
	if errors.Is(err, pbench.ErrTransportWrite) {
		s.logger.Debug("bidirectional stream aborted", zap.Error(err))
	}
	return toStatus(err)
}

func (s *Server) PingPong(ctx context.Context, req *pbench.PingRequest) (*pbench.PongResponse, error) {
	resp, err := s.service.PingPong(ctx, req)
	return resp, toStatus(err)
}

func (s *Server) BatchProcess(ctx context.Context, req *pbench.BatchRequest) (*pbench.BatchResponse, error) {
	resp, err := s.service.Batch(ctx, req)
	return resp, toStatus(err)
}
