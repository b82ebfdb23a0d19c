package pbench

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat/distuv"
)

// Client is the caller side of one transport.
type Client interface {
	Unary(ctx context.Context, req *TestRequest) (*TestResponse, error)
	ServerStream(ctx context.Context, req *StreamRequest, fn func(*TestResponse) error) error
	ClientStream(ctx context.Context, reqs []TestRequest) (*StreamResponse, error)
	Bidi(ctx context.Context, reqs []TestRequest, fn func(*TestResponse) error) error
	PingPong(ctx context.Context, req *PingRequest) (*PongResponse, error)
	Batch(ctx context.Context, req *BatchRequest) (*BatchResponse, error)
	Transport() string
	Close() error
}

const (
	PatternUnary        = "unary"
	PatternServerStream = "server_stream"
	PatternClientStream = "client_stream"
	PatternBidi         = "bidi"
	PatternPingPong     = "ping_pong"
	PatternBatch        = "batch"
)

// Sample is one measured call.
type Sample struct {
	Pattern   string
	Transport string
	RTT       time.Duration
	Server    time.Duration
}

// Recorder receives samples as they are measured. It may be called from
// several goroutines at once.
type Recorder func(Sample)

func (r Recorder) record(s Sample) {
	if r != nil {
		r(s)
	}
}

// NewTestRequest builds a request with a fresh id, the current time and a
// payload of the given class.
func NewTestRequest(size PayloadSize) TestRequest {
	ts := NewTimestamp(time.Now())
	return TestRequest{
		RequestID:   uuid.NewString(),
		Timestamp:   &ts,
		PayloadSize: size,
		Payload:     GeneratePayload(size),
	}
}

type LatencyConfig struct {
	Iterations  int
	Concurrency int
	PayloadSize PayloadSize
}

type LatencyResult struct {
	Iterations int
	Errors     int
	// RTT is in microseconds.
	RTT Summary
	// ClockOffset estimates server clock minus client clock, assuming the
	// server stamped the pong half way through the round trip.
	ClockOffset time.Duration
}

// BenchLatency runs ping-pong round trips and summarizes their latency.
func BenchLatency(ctx context.Context, c Client, cfg LatencyConfig, rec Recorder) (LatencyResult, error) {
	if cfg.Iterations <= 0 {
		return LatencyResult{}, fmt.Errorf("%w: iterations must be > 0", ErrMalformedInput)
	}
	workers := max(cfg.Concurrency, 1)
	clientID := uuid.NewString()
	payload := GeneratePayload(cfg.PayloadSize)

	rtts := make([]time.Duration, cfg.Iterations)
	offsets := make([]time.Duration, cfg.Iterations)
	done := make([]bool, cfg.Iterations)

	jobs := make(chan int)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < cfg.Iterations; i++ {
			select {
			case <-ctx.Done():
				return nil
			case jobs <- i:
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				start := time.Now()
				pong, err := c.PingPong(ctx, &PingRequest{
					ClientID:      clientID,
					SendTimestamp: NewTimestamp(start),
					Payload:       payload,
				})
				end := time.Now()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					continue
				}
				rtt := end.Sub(start)
				rtts[i] = rtt
				done[i] = true
				mid := pong.ClientTimestamp.Time().Add(rtt / 2)
				offsets[i] = pong.ServerTimestamp.Time().Sub(mid)
				rec.record(Sample{
					Pattern:   PatternPingPong,
					Transport: c.Transport(),
					RTT:       rtt,
					Server:    pong.Metrics.ProcessingTime(),
				})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return LatencyResult{}, err
	}

	var ok []time.Duration
	var offsetSum time.Duration
	res := LatencyResult{Iterations: cfg.Iterations}
	for i := range rtts {
		if !done[i] {
			res.Errors++
			continue
		}
		ok = append(ok, rtts[i])
		offsetSum += offsets[i]
	}
	res.RTT = SummarizeDurations(ok)
	if len(ok) > 0 {
		res.ClockOffset = offsetSum / time.Duration(len(ok))
	}
	return res, nil
}

type ThroughputConfig struct {
	PayloadSize PayloadSize
	Duration    time.Duration
	// Concurrency is the number of closed-loop workers. Open-loop runs
	// ignore it.
	Concurrency int
	// Rate switches to open-loop arrivals: requests are issued with
	// exponentially distributed gaps averaging 1/Rate seconds, each on its
	// own goroutine, whether or not earlier calls have returned. Zero keeps
	// every worker busy.
	Rate float64
}

type ThroughputResult struct {
	PayloadSize       PayloadSize
	Messages          int64
	Errors            int64
	Bytes             int64
	Elapsed           time.Duration
	MessagesPerSecond float64
	BytesPerSecond    float64
}

// BenchThroughput issues unary calls for cfg.Duration.
func BenchThroughput(ctx context.Context, c Client, cfg ThroughputConfig, rec Recorder) (ThroughputResult, error) {
	if cfg.Duration <= 0 {
		return ThroughputResult{}, fmt.Errorf("%w: duration must be > 0", ErrMalformedInput)
	}
	payload := GeneratePayload(cfg.PayloadSize)
	payloadBytes := int64(PayloadBytes(payload))

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var messages, errs, bytes atomic.Int64
	issue := func() {
		ts := NewTimestamp(time.Now())
		req := &TestRequest{
			RequestID:   uuid.NewString(),
			Timestamp:   &ts,
			PayloadSize: cfg.PayloadSize,
			Payload:     payload,
		}
		sent := time.Now()
		resp, err := c.Unary(runCtx, req)
		if err != nil {
			// calls cut by the deadline are not errors
			if runCtx.Err() == nil {
				errs.Add(1)
			}
			return
		}
		messages.Add(1)
		bytes.Add(payloadBytes)
		rec.record(Sample{
			Pattern:   PatternUnary,
			Transport: c.Transport(),
			RTT:       time.Since(sent),
			Server:    resp.Metrics.ProcessingTime(),
		})
	}

	start := time.Now()
	if cfg.Rate > 0 {
		var wg sync.WaitGroup
		sendArrivals(runCtx, cfg.Rate, func() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				issue()
			}()
		})
		wg.Wait()
	} else {
		var wg sync.WaitGroup
		for w := 0; w < max(cfg.Concurrency, 1); w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for runCtx.Err() == nil {
					issue()
				}
			}()
		}
		wg.Wait()
	}
	elapsed := time.Since(start)

	res := ThroughputResult{
		PayloadSize: cfg.PayloadSize,
		Messages:    messages.Load(),
		Errors:      errs.Load(),
		Bytes:       bytes.Load(),
		Elapsed:     elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		res.MessagesPerSecond = float64(res.Messages) / secs
		res.BytesPerSecond = float64(res.Bytes) / secs
	}
	return res, ctx.Err()
}

// sendArrivals calls arrive after every exponentially distributed gap until
// ctx is done. arrive must not block.
func sendArrivals(ctx context.Context, rate float64, arrive func()) {
	exp := distuv.Exponential{
		Rate: rate,
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C
	for {
		timer.Reset(time.Duration(exp.Rand() * float64(time.Second)))
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			arrive()
		}
	}
}

type StreamResult struct {
	Requested         int
	Received          int
	Elapsed           time.Duration
	MessagesPerSecond float64
	// Gaps between consecutive messages, in microseconds.
	Gaps Summary
}

// BenchServerStream consumes one server stream.
func BenchServerStream(ctx context.Context, c Client, req StreamRequest, rec Recorder) (StreamResult, error) {
	var (
		gaps     []time.Duration
		received int
		last     time.Time
	)
	start := time.Now()
	err := c.ServerStream(ctx, &req, func(resp *TestResponse) error {
		now := time.Now()
		if received > 0 {
			gaps = append(gaps, now.Sub(last))
		}
		last = now
		received++
		rec.record(Sample{
			Pattern:   PatternServerStream,
			Transport: c.Transport(),
			RTT:       now.Sub(start),
			Server:    resp.Metrics.ProcessingTime(),
		})
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return StreamResult{}, err
	}

	res := StreamResult{
		Requested: req.MessageCount,
		Received:  received,
		Elapsed:   elapsed,
		Gaps:      SummarizeDurations(gaps),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		res.MessagesPerSecond = float64(received) / secs
	}
	return res, nil
}

type ClientStreamResult struct {
	Sent       int
	Processed  int64
	Elapsed    time.Duration
	ServerTime time.Duration
}

func BenchClientStream(ctx context.Context, c Client, messages int, size PayloadSize, rec Recorder) (ClientStreamResult, error) {
	reqs := make([]TestRequest, messages)
	for i := range reqs {
		reqs[i] = NewTestRequest(size)
	}

	start := time.Now()
	resp, err := c.ClientStream(ctx, reqs)
	elapsed := time.Since(start)
	if err != nil {
		return ClientStreamResult{}, err
	}
	rec.record(Sample{
		Pattern:   PatternClientStream,
		Transport: c.Transport(),
		RTT:       elapsed,
		Server:    resp.AggregateMetrics.ProcessingTime(),
	})
	return ClientStreamResult{
		Sent:       messages,
		Processed:  resp.MessagesProcessed,
		Elapsed:    elapsed,
		ServerTime: resp.AggregateMetrics.ProcessingTime(),
	}, nil
}

type BidiResult struct {
	Exchanges int
	Elapsed   time.Duration
	// Per-exchange round trips, in microseconds.
	RTT Summary
}

func BenchBidi(ctx context.Context, c Client, messages int, size PayloadSize, rec Recorder) (BidiResult, error) {
	reqs := make([]TestRequest, messages)
	for i := range reqs {
		reqs[i] = NewTestRequest(size)
	}

	var rtts []time.Duration
	start := time.Now()
	last := start
	err := c.Bidi(ctx, reqs, func(resp *TestResponse) error {
		now := time.Now()
		rtt := now.Sub(last)
		last = now
		rtts = append(rtts, rtt)
		rec.record(Sample{
			Pattern:   PatternBidi,
			Transport: c.Transport(),
			RTT:       rtt,
			Server:    resp.Metrics.ProcessingTime(),
		})
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		return BidiResult{}, err
	}
	return BidiResult{
		Exchanges: len(rtts),
		Elapsed:   elapsed,
		RTT:       SummarizeDurations(rtts),
	}, nil
}

type BatchRun struct {
	Size          int
	Parallel      bool
	Total         time.Duration
	ServerTime    time.Duration
	AvgPerRequest time.Duration
	Failed        int
}

type BatchComparison struct {
	Size       int
	Sequential BatchRun
	Parallel   BatchRun
	// Speedup is sequential over parallel wall time; Efficiency divides it
	// by the batch size.
	Speedup    float64
	Efficiency float64
}

// BenchBatch sends the same batch in sequential and in parallel mode for
// every size.
func BenchBatch(ctx context.Context, c Client, sizes []int, size PayloadSize, rec Recorder) ([]BatchComparison, error) {
	var out []BatchComparison
	for _, n := range sizes {
		if n <= 0 {
			return nil, fmt.Errorf("%w: batch size must be > 0, got %d", ErrMalformedInput, n)
		}
		reqs := make([]TestRequest, n)
		for i := range reqs {
			reqs[i] = NewTestRequest(size)
		}

		cmp := BatchComparison{Size: n}
		for _, parallel := range []bool{false, true} {
			start := time.Now()
			resp, err := c.Batch(ctx, &BatchRequest{Requests: reqs, ParallelProcess: parallel})
			total := time.Since(start)
			if err != nil {
				return nil, err
			}
			run := BatchRun{
				Size:          n,
				Parallel:      parallel,
				Total:         total,
				ServerTime:    resp.BatchMetrics.ProcessingTime(),
				AvgPerRequest: total / time.Duration(n),
				Failed:        resp.Failed,
			}
			rec.record(Sample{
				Pattern:   PatternBatch,
				Transport: c.Transport(),
				RTT:       total,
				Server:    run.ServerTime,
			})
			if parallel {
				cmp.Parallel = run
			} else {
				cmp.Sequential = run
			}
		}
		if cmp.Parallel.Total > 0 {
			cmp.Speedup = float64(cmp.Sequential.Total) / float64(cmp.Parallel.Total)
			cmp.Efficiency = cmp.Speedup / float64(n) * 100
		}
		out = append(out, cmp)
	}
	return out, nil
}

// SampleBuffer collects samples in memory; Recorder is safe for concurrent
// use.
type SampleBuffer struct {
	mu      sync.Mutex
	samples []Sample
}

func (b *SampleBuffer) Recorder() Recorder {
	return func(s Sample) {
		b.mu.Lock()
		b.samples = append(b.samples, s)
		b.mu.Unlock()
	}
}

func (b *SampleBuffer) Samples() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}
