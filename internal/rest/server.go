// Package rest exposes the performance-test patterns as JSON endpoints, with
// server-sent events for the server streaming pattern.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/alarmfox/perftest/internal/pbench"
	"github.com/alarmfox/perftest/internal/telemetry"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const (
	DefaultMaxBodySize = 10 * 1024 * 1024
	shutdownGrace      = 5 * time.Second
)

type Config struct {
	MaxBodySize int64
	// CORSOrigins lists the allowed origins; empty allows any origin.
	CORSOrigins []string
	Metrics     *telemetry.Metrics
}

// Server adapts pbench.Service to HTTP.
type Server struct {
	service     *pbench.Service
	logger      *zap.Logger
	metrics     *telemetry.Metrics
	maxBodySize int64
	router      *mux.Router
	handler     http.Handler
	buffers     *pbench.Pool[*bytes.Buffer]
}

func NewServer(service *pbench.Service, logger *zap.Logger, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	s := &Server{
		service:     service,
		logger:      logger,
		metrics:     cfg.Metrics,
		maxBodySize: cfg.MaxBodySize,
		router:      mux.NewRouter(),
		buffers: pbench.NewPool(
			func() *bytes.Buffer { return new(bytes.Buffer) },
			(*bytes.Buffer).Reset,
		),
	}
	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	s.handler = c.Handler(s.router)
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.metrics.Middleware, s.logRequests)

	s.router.HandleFunc("/unary", s.unaryHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/client-stream", s.clientStreamHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/bidirectional", s.bidirectionalHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/stream", s.streamHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ping", s.pingHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/batch", s.batchHandler).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

// Handler is the routed handler wrapped with CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then shuts down gracefully. Open
// event streams see their request context canceled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("http server listening", zap.String("addr", lis.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
		_ = srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http serve: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}
