package rpc

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/alarmfox/perftest/internal/pbench"
	"github.com/alarmfox/perftest/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type testEnv struct {
	client  *Client
	metrics *telemetry.Metrics
}

func startServer(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := telemetry.New()
	service := pbench.NewService(nil, logger)
	srv := NewServer(service, logger, Config{Metrics: metrics})

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, lis) }()

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	client, err := Dial("passthrough:///bufnet", 0, dialer)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return &testEnv{client: client, metrics: metrics}
}

func TestUnaryCall(t *testing.T) {
	env := startServer(t)

	resp, err := env.client.Unary(context.Background(), &pbench.TestRequest{RequestID: "u-1"})
	require.NoError(t, err)

	assert.Equal(t, "u-1", resp.RequestID)
	assert.Len(t, resp.Payload, 5)
	assert.False(t, resp.ProcessedAt.Before(resp.ReceivedAt))
	assert.Zero(t, resp.Metrics.CPUUsage)

	n, err := testutil.GatherAndCount(env.metrics.Registry(), "perftest_server_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnaryCallMalformed(t *testing.T) {
	env := startServer(t)

	// request_id must be a string.
	bad := map[string]any{"request_id": 42}
	err := env.client.conn.Invoke(context.Background(), methodUnaryCall, bad, new(pbench.TestResponse))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPingPong(t *testing.T) {
	env := startServer(t)
	sent := pbench.NewTimestamp(time.Now())
	payload := []pbench.KeyValueItem{{Key: "a", Value: "1"}}

	pong, err := env.client.PingPong(context.Background(), &pbench.PingRequest{
		ClientID:      "c-1",
		SendTimestamp: sent,
		Payload:       payload,
	})
	require.NoError(t, err)

	assert.Equal(t, "c-1", pong.ClientID)
	assert.Equal(t, sent, pong.ClientTimestamp)
	assert.Equal(t, payload, pong.Payload)
}

func TestServerStreaming(t *testing.T) {
	env := startServer(t)

	var got []*pbench.TestResponse
	err := env.client.ServerStream(context.Background(), &pbench.StreamRequest{MessageCount: 3, ItemCount: 2}, func(resp *pbench.TestResponse) error {
		got = append(got, resp)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, got, 3)
	for i, resp := range got {
		assert.Equal(t, fmt.Sprint(i), resp.RequestID)
		assert.Len(t, resp.Payload, 2)
	}
}

func TestServerStreamingInvalid(t *testing.T) {
	env := startServer(t)

	err := env.client.ServerStream(context.Background(), &pbench.StreamRequest{MessageCount: -1}, func(*pbench.TestResponse) error {
		return nil
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServerStreamingClientCancel(t *testing.T) {
	env := startServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := 0
	err := env.client.ServerStream(ctx, &pbench.StreamRequest{MessageCount: 1000, IntervalMs: 5}, func(*pbench.TestResponse) error {
		received++
		if received == 2 {
			cancel()
		}
		return nil
	})
	assert.Equal(t, codes.Canceled, status.Code(err))
	assert.Less(t, received, 1000)
}

func TestClientStreaming(t *testing.T) {
	env := startServer(t)

	for _, n := range []int{0, 1, 100} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			reqs := make([]pbench.TestRequest, n)
			for i := range reqs {
				reqs[i] = pbench.NewTestRequest(pbench.PayloadSmall)
			}
			resp, err := env.client.ClientStream(context.Background(), reqs)
			require.NoError(t, err)
			assert.Equal(t, int64(n), resp.MessagesProcessed)
		})
	}
}

func TestBidirectionalStreaming(t *testing.T) {
	env := startServer(t)
	reqs := []pbench.TestRequest{{RequestID: "x"}, {RequestID: "y"}, {RequestID: "z"}}

	var ids []string
	err := env.client.Bidi(context.Background(), reqs, func(resp *pbench.TestResponse) error {
		ids = append(ids, resp.RequestID)
		assert.Len(t, resp.Payload, 2)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, ids)
}

func TestBatchProcess(t *testing.T) {
	env := startServer(t)
	req := &pbench.BatchRequest{
		ParallelProcess: true,
		Requests: []pbench.TestRequest{
			{RequestID: "a", Payload: []pbench.KeyValueItem{{Key: "k", Value: "v"}}},
			{RequestID: "b", Payload: []pbench.KeyValueItem{}},
			{RequestID: "c", Payload: []pbench.KeyValueItem{{Key: "x", Value: "y"}, {Key: "p", Value: "q"}}},
		},
	}

	resp, err := env.client.Batch(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, resp.Responses, 3)
	for i, r := range resp.Responses {
		assert.Equal(t, req.Requests[i].RequestID, r.RequestID)
		assert.Equal(t, req.Requests[i].Payload, r.Payload)
	}
	assert.Zero(t, resp.Failed)
	assert.GreaterOrEqual(t, resp.BatchMetrics.ProcessingTimeUs, int64(0))
}

func TestHealth(t *testing.T) {
	env := startServer(t)

	resp, err := healthpb.NewHealthClient(env.client.conn).Check(
		context.Background(),
		&healthpb.HealthCheckRequest{Service: ServiceName},
		grpc.CallContentSubtype("proto"),
	)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
		nil  bool
	}{
		{name: "nil", err: nil, nil: true},
		{name: "transport write", err: fmt.Errorf("%w: gone", pbench.ErrTransportWrite), nil: true},
		{name: "malformed", err: fmt.Errorf("%w: bad", pbench.ErrMalformedInput), code: codes.InvalidArgument},
		{name: "canceled", err: context.Canceled, code: codes.Canceled},
		{name: "deadline", err: context.DeadlineExceeded, code: codes.DeadlineExceeded},
		{name: "status kept", err: status.Error(codes.ResourceExhausted, "too big"), code: codes.ResourceExhausted},
		{name: "other", err: fmt.Errorf("disk on fire"), code: codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toStatus(tt.err)
			if tt.nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.code, status.Code(got))
		})
	}
}
