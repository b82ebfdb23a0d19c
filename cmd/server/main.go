package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alarmfox/perftest/internal/logging"
	"github.com/alarmfox/perftest/internal/pbench"
	"github.com/alarmfox/perftest/internal/rest"
	"github.com/alarmfox/perftest/internal/rpc"
	"github.com/alarmfox/perftest/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	grpcAddr    = flag.String("grpc-addr", "0.0.0.0:50051", "Listen address for the gRPC server")
	httpAddr    = flag.String("http-addr", "0.0.0.0:8080", "Listen address for the HTTP server")
	maxMsgSize  = flag.Int("max-msg-size", rpc.DefaultMaxMsgSize, "Maximum message and request body size in bytes")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat   = flag.String("log-format", "json", "Log format: json or text")
	corsOrigins = flag.String("cors-origins", "", "Comma separated allowed CORS origins; empty allows any")
)

type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MaxMsgSize  int
	CORSOrigins []string
}

func main() {
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *logLevel, Format: *logFormat})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	c := Config{
		GRPCAddr:    *grpcAddr,
		HTTPAddr:    *httpAddr,
		MaxMsgSize:  *maxMsgSize,
		CORSOrigins: splitList(*corsOrigins),
	}

	logger.Info("starting", zap.Any("config", c))
	if err := run(logger, c); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(logger *zap.Logger, c Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics := telemetry.New()
	service := pbench.NewService(pbench.NewMetricsCollector(), logger.Named("pbench"))

	grpcServer := rpc.NewServer(service, logger.Named("grpc"), rpc.Config{
		MaxMsgSize: c.MaxMsgSize,
		Metrics:    metrics,
	})
	httpServer := rest.NewServer(service, logger.Named("http"), rest.Config{
		MaxBodySize: int64(c.MaxMsgSize),
		CORSOrigins: c.CORSOrigins,
		Metrics:     metrics,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return grpcServer.Start(ctx, c.GRPCAddr)
	})

	g.Go(func() error {
		return httpServer.Start(ctx, c.HTTPAddr)
	})

	return g.Wait()
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
