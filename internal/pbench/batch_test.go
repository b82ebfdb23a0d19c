package pbench

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func scenarioBatch(parallel bool) *BatchRequest {
	return &BatchRequest{
		ParallelProcess: parallel,
		Requests: []TestRequest{
			{RequestID: "a", Payload: []KeyValueItem{{Key: "k", Value: "v"}}},
			{RequestID: "b", Payload: []KeyValueItem{}},
			{RequestID: "c", Payload: []KeyValueItem{{Key: "x", Value: "y"}, {Key: "p", Value: "q"}}},
		},
	}
}

func TestBatch(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%t", parallel), func(t *testing.T) {
			s := newTestService(t)

			resp, err := s.Batch(context.Background(), scenarioBatch(parallel))
			require.NoError(t, err)

			require.Len(t, resp.Responses, 3)
			assert.Equal(t, "a", resp.Responses[0].RequestID)
			assert.Equal(t, []KeyValueItem{{Key: "k", Value: "v"}}, resp.Responses[0].Payload)
			assert.Equal(t, "b", resp.Responses[1].RequestID)
			assert.NotNil(t, resp.Responses[1].Payload)
			assert.Empty(t, resp.Responses[1].Payload)
			assert.Equal(t, "c", resp.Responses[2].RequestID)
			assert.Equal(t, []KeyValueItem{{Key: "x", Value: "y"}, {Key: "p", Value: "q"}}, resp.Responses[2].Payload)

			assert.Zero(t, resp.Failed)
			assert.GreaterOrEqual(t, resp.BatchMetrics.ProcessingTimeUs, int64(0))
		})
	}
}

func TestBatchEmpty(t *testing.T) {
	s := newTestService(t)

	resp, err := s.Batch(context.Background(), &BatchRequest{ParallelProcess: true})
	require.NoError(t, err)
	assert.NotNil(t, resp.Responses)
	assert.Empty(t, resp.Responses)
}

func TestBatchParallelKeepsRequestOrder(t *testing.T) {
	// Later items finish first.
	s := NewService(nil, zaptest.NewLogger(t), WithItemHandler(func(req *TestRequest) (TestResponse, error) {
		var i int
		_, _ = fmt.Sscan(req.RequestID, &i)
		time.Sleep(time.Duration(50-i) * time.Millisecond / 10)
		return TestResponse{RequestID: req.RequestID, Payload: echo(req.Payload)}, nil
	}))

	reqs := make([]TestRequest, 50)
	for i := range reqs {
		reqs[i] = TestRequest{RequestID: fmt.Sprint(i), Payload: []KeyValueItem{{Key: fmt.Sprint(i), Value: "v"}}}
	}

	resp, err := s.Batch(context.Background(), &BatchRequest{Requests: reqs, ParallelProcess: true})
	require.NoError(t, err)
	require.Len(t, resp.Responses, len(reqs))
	for i, r := range resp.Responses {
		assert.Equal(t, fmt.Sprint(i), r.RequestID)
		assert.Equal(t, reqs[i].Payload, r.Payload)
	}
}

func TestBatchSequentialMatchesParallel(t *testing.T) {
	s := newTestService(t)
	reqs := make([]TestRequest, 20)
	for i := range reqs {
		reqs[i] = NewTestRequest(PayloadSmall)
	}

	seq, err := s.Batch(context.Background(), &BatchRequest{Requests: reqs})
	require.NoError(t, err)
	par, err := s.Batch(context.Background(), &BatchRequest{Requests: reqs, ParallelProcess: true})
	require.NoError(t, err)

	require.Len(t, par.Responses, len(seq.Responses))
	for i := range seq.Responses {
		assert.Equal(t, seq.Responses[i].RequestID, par.Responses[i].RequestID)
		assert.Equal(t, seq.Responses[i].Payload, par.Responses[i].Payload)
	}
}

func TestBatchItemFailureIsIsolated(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		t.Run(fmt.Sprintf("parallel=%t", parallel), func(t *testing.T) {
			var s *Service
			s = NewService(newTestCollector(), zaptest.NewLogger(t), WithItemHandler(func(req *TestRequest) (TestResponse, error) {
				switch req.RequestID {
				case "b":
					return TestResponse{}, errors.New("rejected")
				case "c":
					panic("boom")
				}
				return s.echoItem(req)
			}))

			resp, err := s.Batch(context.Background(), scenarioBatch(parallel))
			require.NoError(t, err)

			require.Len(t, resp.Responses, 3)
			assert.Equal(t, 2, resp.Failed)

			assert.Equal(t, "a", resp.Responses[0].RequestID)
			assert.Empty(t, resp.Responses[0].Error)
			assert.Equal(t, []KeyValueItem{{Key: "k", Value: "v"}}, resp.Responses[0].Payload)

			assert.Equal(t, "b", resp.Responses[1].RequestID)
			assert.Contains(t, resp.Responses[1].Error, "rejected")

			assert.Equal(t, "c", resp.Responses[2].RequestID)
			assert.Contains(t, resp.Responses[2].Error, "boom")
			assert.NotNil(t, resp.Responses[2].Payload)
		})
	}
}
