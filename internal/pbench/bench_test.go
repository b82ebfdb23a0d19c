package pbench

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newLocalClient(t *testing.T) *LocalClient {
	t.Helper()
	return NewLocalClient(NewService(NewMetricsCollector(WithMemorySampler(fixedMemory(1))), zaptest.NewLogger(t)))
}

func TestBenchLatency(t *testing.T) {
	c := newLocalClient(t)
	var buf SampleBuffer

	res, err := BenchLatency(context.Background(), c, LatencyConfig{
		Iterations:  50,
		Concurrency: 4,
		PayloadSize: PayloadSmall,
	}, buf.Recorder())
	require.NoError(t, err)

	assert.Equal(t, 50, res.Iterations)
	assert.Zero(t, res.Errors)
	assert.Equal(t, 50, res.RTT.Count)
	assert.LessOrEqual(t, res.RTT.P50, res.RTT.P99)

	samples := buf.Samples()
	require.Len(t, samples, 50)
	assert.Equal(t, PatternPingPong, samples[0].Pattern)
	assert.Equal(t, "local", samples[0].Transport)
}

func TestBenchLatencyRejectsZeroIterations(t *testing.T) {
	_, err := BenchLatency(context.Background(), newLocalClient(t), LatencyConfig{}, nil)
	assert.ErrorIs(t, err, ErrMalformedInput)
}

type pingFailClient struct {
	*LocalClient
}

func (pingFailClient) PingPong(context.Context, *PingRequest) (*PongResponse, error) {
	return nil, errors.New("unavailable")
}

func TestBenchLatencyCountsErrors(t *testing.T) {
	res, err := BenchLatency(context.Background(), pingFailClient{newLocalClient(t)}, LatencyConfig{Iterations: 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Errors)
	assert.Zero(t, res.RTT.Count)
}

func TestBenchThroughput(t *testing.T) {
	c := newLocalClient(t)

	res, err := BenchThroughput(context.Background(), c, ThroughputConfig{
		PayloadSize: PayloadSmall,
		Duration:    50 * time.Millisecond,
		Concurrency: 2,
	}, nil)
	require.NoError(t, err)

	assert.Positive(t, res.Messages)
	assert.Zero(t, res.Errors)
	assert.Equal(t, res.Messages*int64(PayloadBytes(GeneratePayload(PayloadSmall))), res.Bytes)
	assert.Positive(t, res.MessagesPerSecond)
	assert.GreaterOrEqual(t, res.Elapsed, 40*time.Millisecond)
}

// slowUnaryClient answers every unary call after delay.
type slowUnaryClient struct {
	*LocalClient
	delay time.Duration
}

func (c slowUnaryClient) Unary(ctx context.Context, req *TestRequest) (*TestResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.delay):
	}
	return c.LocalClient.Unary(ctx, req)
}

func TestBenchThroughputOpenLoop(t *testing.T) {
	c := newLocalClient(t)

	res, err := BenchThroughput(context.Background(), c, ThroughputConfig{
		Duration: 100 * time.Millisecond,
		Rate:     200,
	}, nil)
	require.NoError(t, err)

	// ~20 arrivals expected; far below what a closed loop would reach.
	assert.Positive(t, res.Messages)
	assert.Less(t, res.Messages, int64(200))
}

func TestBenchThroughputOpenLoopDoesNotWaitForCompletions(t *testing.T) {
	c := slowUnaryClient{LocalClient: newLocalClient(t), delay: 50 * time.Millisecond}

	res, err := BenchThroughput(context.Background(), c, ThroughputConfig{
		Duration:    500 * time.Millisecond,
		Concurrency: 1,
		Rate:        200,
	}, nil)
	require.NoError(t, err)

	// ~90 calls finish inside the window; gating arrivals on one in-flight
	// call would cap it at 10.
	assert.Greater(t, res.Messages, int64(40))
	assert.Zero(t, res.Errors)
}

func TestBenchServerStream(t *testing.T) {
	c := newLocalClient(t)
	var buf SampleBuffer

	res, err := BenchServerStream(context.Background(), c, StreamRequest{MessageCount: 5, IntervalMs: 2, ItemCount: 1}, buf.Recorder())
	require.NoError(t, err)

	assert.Equal(t, 5, res.Requested)
	assert.Equal(t, 5, res.Received)
	assert.Equal(t, 4, res.Gaps.Count)
	assert.GreaterOrEqual(t, res.Gaps.Min, 2000.0)
	assert.Len(t, buf.Samples(), 5)
}

func TestBenchClientStream(t *testing.T) {
	res, err := BenchClientStream(context.Background(), newLocalClient(t), 25, PayloadEmpty, nil)
	require.NoError(t, err)
	assert.Equal(t, 25, res.Sent)
	assert.Equal(t, int64(25), res.Processed)
}

func TestBenchBidi(t *testing.T) {
	res, err := BenchBidi(context.Background(), newLocalClient(t), 10, PayloadSmall, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Exchanges)
	assert.Equal(t, 10, res.RTT.Count)
}

func TestBenchBatch(t *testing.T) {
	var buf SampleBuffer

	out, err := BenchBatch(context.Background(), newLocalClient(t), []int{1, 8}, PayloadSmall, buf.Recorder())
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Size)
	assert.Equal(t, 8, out[1].Size)
	for _, cmp := range out {
		assert.False(t, cmp.Sequential.Parallel)
		assert.True(t, cmp.Parallel.Parallel)
		assert.Zero(t, cmp.Sequential.Failed)
		assert.Positive(t, cmp.Speedup)
	}
	assert.Len(t, buf.Samples(), 4)

	_, err = BenchBatch(context.Background(), newLocalClient(t), []int{0}, PayloadSmall, nil)
	assert.ErrorIs(t, err, ErrMalformedInput)
}
