package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/alarmfox/perftest/internal/logging"
	"github.com/alarmfox/perftest/internal/pbench"
	"github.com/alarmfox/perftest/internal/rest"
	"github.com/alarmfox/perftest/internal/rpc"
	"github.com/shirou/gopsutil/load"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	transport  = flag.String("transport", "grpc", "Transport to benchmark: grpc, http or local")
	grpcAddr   = flag.String("grpc-addr", "127.0.0.1:50051", "Address of the gRPC server")
	httpAddr   = flag.String("http-addr", "http://127.0.0.1:8080", "Base URL of the HTTP server")
	planFile   = flag.String("plan", "", "YAML plan file; empty runs the default plan")
	only       = flag.String("scenarios", "", "Comma separated scenario names to run from the plan; empty runs all")
	maxMsgSize = flag.Int("max-msg-size", rpc.DefaultMaxMsgSize, "Maximum gRPC message size in bytes")
	resultFile = flag.String("write", "result.txt", "File path to write raw samples")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat  = flag.String("log-format", "text", "Log format: json or text")
)

type Config struct {
	Transport  string
	GRPCAddr   string
	HTTPAddr   string
	MaxMsgSize int
	ResultFile string
	Plan       Plan
}

func main() {
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *logLevel, Format: *logFormat})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	plan := DefaultPlan()
	if *planFile != "" {
		if plan, err = LoadPlan(*planFile); err != nil {
			logger.Fatal("load plan", zap.Error(err))
		}
	}
	if *only != "" {
		plan = plan.Filter(strings.Split(*only, ","))
	}

	c := Config{
		Transport:  *transport,
		GRPCAddr:   *grpcAddr,
		HTTPAddr:   *httpAddr,
		MaxMsgSize: *maxMsgSize,
		ResultFile: *resultFile,
		Plan:       plan,
	}

	logger.Info("starting", zap.Any("config", c))
	if err := run(logger, c); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("client failed", zap.Error(err))
	}
}

// Filter keeps the scenarios whose name is listed, in plan order.
func (p Plan) Filter(names []string) Plan {
	var out Plan
	for _, s := range p.Scenarios {
		if slices.Contains(names, s.Name) {
			out.Scenarios = append(out.Scenarios, s)
		}
	}
	return out
}

func newClient(logger *zap.Logger, c Config) (pbench.Client, error) {
	switch strings.ToLower(c.Transport) {
	case "grpc":
		return rpc.Dial(c.GRPCAddr, c.MaxMsgSize)
	case "http":
		return rest.NewClient(c.HTTPAddr, nil), nil
	case "local":
		return pbench.NewLocalClient(pbench.NewService(nil, logger.Named("pbench"))), nil
	}
	return nil, fmt.Errorf("unsupported transport: %s", c.Transport)
}

func run(logger *zap.Logger, c Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	client, err := newClient(logger, c)
	if err != nil {
		return err
	}
	defer client.Close()

	f, err := os.Create(c.ResultFile)
	if err != nil {
		return err
	}
	defer f.Close()

	// Host load at the start of the run, logged next to the results.
	if avg, err := load.Avg(); err == nil {
		logger.Info("host load", zap.Float64("load1", avg.Load1), zap.Float64("load5", avg.Load5), zap.Float64("load15", avg.Load15))
	} else {
		logger.Debug("host load unavailable", zap.Error(err))
	}

	samples := make(chan pbench.Sample, 1024)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w := bufio.NewWriter(f)
		var werr error
		// keep draining after a write error so recorders never block
		for s := range samples {
			if werr == nil {
				_, werr = fmt.Fprintln(w, s)
			}
		}
		if werr != nil {
			return werr
		}
		return w.Flush()
	})

	g.Go(func() error {
		defer close(samples)
		rec := pbench.Recorder(func(s pbench.Sample) {
			samples <- s
		})
		for _, s := range c.Plan.Scenarios {
			if err := runScenario(ctx, logger, client, s, rec); err != nil {
				return fmt.Errorf("scenario %s: %w", s.Name, err)
			}
		}
		return nil
	})

	return g.Wait()
}

func runScenario(ctx context.Context, logger *zap.Logger, client pbench.Client, s Scenario, rec pbench.Recorder) error {
	sizes, err := s.payloadSizes()
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("scenario", s.Name), zap.String("transport", client.Transport()))

	switch s.Name {
	case scenarioLatency:
		for _, size := range sizes {
			res, err := pbench.BenchLatency(ctx, client, pbench.LatencyConfig{
				Iterations:  s.Iterations,
				Concurrency: s.Concurrency,
				PayloadSize: size,
			}, rec)
			if err != nil {
				return err
			}
			logger.Info("latency",
				zap.Stringer("payload_size", size),
				zap.Int("iterations", res.Iterations),
				zap.Int("errors", res.Errors),
				zap.Float64("min_us", res.RTT.Min),
				zap.Float64("max_us", res.RTT.Max),
				zap.Float64("mean_us", res.RTT.Mean),
				zap.Float64("stddev_us", res.RTT.StdDev),
				zap.Float64("p50_us", res.RTT.P50),
				zap.Float64("p95_us", res.RTT.P95),
				zap.Float64("p99_us", res.RTT.P99),
				zap.Duration("clock_offset", res.ClockOffset))
		}

	case scenarioThroughput:
		for _, size := range sizes {
			res, err := pbench.BenchThroughput(ctx, client, pbench.ThroughputConfig{
				PayloadSize: size,
				Duration:    s.Duration,
				Concurrency: s.Concurrency,
				Rate:        s.Rate,
			}, rec)
			if err != nil {
				return err
			}
			logger.Info("throughput",
				zap.Stringer("payload_size", size),
				zap.Int64("messages", res.Messages),
				zap.Int64("errors", res.Errors),
				zap.Int64("bytes", res.Bytes),
				zap.Duration("elapsed", res.Elapsed),
				zap.Float64("messages_per_second", res.MessagesPerSecond),
				zap.Float64("mib_per_second", res.BytesPerSecond/1024/1024))
		}

	case scenarioStream:
		res, err := pbench.BenchServerStream(ctx, client, pbench.StreamRequest{
			MessageCount: s.Messages,
			IntervalMs:   s.IntervalMs,
			PayloadSize:  s.ValueSize,
			ItemCount:    s.ItemCount,
		}, rec)
		if err != nil {
			return err
		}
		logger.Info("server stream",
			zap.Int("requested", res.Requested),
			zap.Int("received", res.Received),
			zap.Duration("elapsed", res.Elapsed),
			zap.Float64("messages_per_second", res.MessagesPerSecond),
			zap.Float64("gap_mean_us", res.Gaps.Mean),
			zap.Float64("gap_p99_us", res.Gaps.P99))

	case scenarioClientStream:
		for _, size := range sizes {
			res, err := pbench.BenchClientStream(ctx, client, s.Messages, size, rec)
			if err != nil {
				return err
			}
			logger.Info("client stream",
				zap.Stringer("payload_size", size),
				zap.Int("sent", res.Sent),
				zap.Int64("processed", res.Processed),
				zap.Duration("elapsed", res.Elapsed),
				zap.Duration("server_time", res.ServerTime))
		}

	case scenarioBidi:
		for _, size := range sizes {
			res, err := pbench.BenchBidi(ctx, client, s.Messages, size, rec)
			if err != nil {
				return err
			}
			logger.Info("bidirectional",
				zap.Stringer("payload_size", size),
				zap.Int("exchanges", res.Exchanges),
				zap.Duration("elapsed", res.Elapsed),
				zap.Float64("rtt_mean_us", res.RTT.Mean),
				zap.Float64("rtt_p99_us", res.RTT.P99))
		}

	case scenarioBatch:
		for _, size := range sizes {
			out, err := pbench.BenchBatch(ctx, client, s.BatchSizes, size, rec)
			if err != nil {
				return err
			}
			for _, cmp := range out {
				logger.Info("batch",
					zap.Stringer("payload_size", size),
					zap.Int("batch_size", cmp.Size),
					zap.Duration("sequential", cmp.Sequential.Total),
					zap.Duration("sequential_avg", cmp.Sequential.AvgPerRequest),
					zap.Duration("parallel", cmp.Parallel.Total),
					zap.Duration("parallel_avg", cmp.Parallel.AvgPerRequest),
					zap.Int("failed", cmp.Sequential.Failed+cmp.Parallel.Failed),
					zap.Float64("speedup", cmp.Speedup),
					zap.Float64("efficiency_pct", cmp.Efficiency))
			}
		}
	}
	return nil
}
