package pbench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	unaryItemCount = 5
	bidiItemCount  = 2
)

// ResponseSender is the outbound half of a stream. Send must return an error
// once the consumer has gone away.
type ResponseSender interface {
	Send(*TestResponse) error
}

// RequestReceiver is the inbound half of a stream. Recv returns io.EOF when
// the peer has finished sending.
type RequestReceiver interface {
	Recv() (*TestRequest, error)
}

type BidiStream interface {
	RequestReceiver
	ResponseSender
}

// Service implements every interaction pattern. It holds no per-call state
// and is safe for concurrent use.
type Service struct {
	metrics *MetricsCollector
	logger  *zap.Logger

	// transform turns one batch sub-request into its response; nil means
	// echoItem.
	transform func(*TestRequest) (TestResponse, error)
}

type ServiceOption func(*Service)

// WithItemHandler replaces the echo applied to each batch sub-request.
func WithItemHandler(fn func(*TestRequest) (TestResponse, error)) ServiceOption {
	return func(s *Service) {
		s.transform = fn
	}
}

func NewService(metrics *MetricsCollector, logger *zap.Logger, opts ...ServiceOption) *Service {
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Unary answers with a fixed synthesized payload; the request payload is not
// echoed.
func (s *Service) Unary(ctx context.Context, req *TestRequest) (*TestResponse, error) {
	start := s.metrics.Now()
	resp := &TestResponse{
		RequestID:  req.RequestID,
		ReceivedAt: NewTimestamp(start),
		Payload:    synthesize(unaryItemCount, "key", "value"),
	}
	end := s.metrics.Now()
	resp.ProcessedAt = NewTimestamp(end)
	resp.Metrics = s.metrics.Collect(start, end)
	return resp, nil
}

// ServerStream emits req.MessageCount responses, waiting req.Interval()
// between two of them. It stops as soon as ctx is done or a Send fails.
func (s *Service) ServerStream(ctx context.Context, req *StreamRequest, out ResponseSender) error {
	if err := req.Validate(); err != nil {
		return err
	}
	interval := req.Interval()

	for i := 0; i < req.MessageCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := s.metrics.Now()
		resp := &TestResponse{
			RequestID:  strconv.Itoa(i),
			ReceivedAt: NewTimestamp(start),
			Payload:    streamItems(req.ItemCount, req.PayloadSize),
		}
		end := s.metrics.Now()
		resp.ProcessedAt = NewTimestamp(end)
		resp.Metrics = s.metrics.Collect(start, end)

		if err := out.Send(resp); err != nil {
			return fmt.Errorf("%w: message %d: %v", ErrTransportWrite, i, err)
		}

		if interval > 0 && i < req.MessageCount-1 {
			if err := sleep(ctx, interval); err != nil {
				return err
			}
		}
	}
	return nil
}

// ClientStream drains in and counts the messages. The metrics window opens
// when the first message arrives; an empty stream yields a zero window.
func (s *Service) ClientStream(ctx context.Context, in RequestReceiver) (*StreamResponse, error) {
	var (
		count   int64
		start   time.Time
		started bool
	)
	for {
		_, err := in.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !started {
			start = s.metrics.Now()
			started = true
		}
		count++
	}

	end := s.metrics.Now()
	if !started {
		start = end
	}
	return &StreamResponse{
		MessagesProcessed: count,
		AggregateMetrics:  s.metrics.Collect(start, end),
	}, nil
}

// Bidi answers every inbound message before reading the next one.
func (s *Service) Bidi(ctx context.Context, stream BidiStream) error {
	for {
		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		start := s.metrics.Now()
		resp := &TestResponse{
			RequestID:  req.RequestID,
			ReceivedAt: NewTimestamp(start),
			Payload:    synthesize(bidiItemCount, "bi_key", "bi_value"),
		}
		end := s.metrics.Now()
		resp.ProcessedAt = NewTimestamp(end)
		resp.Metrics = s.metrics.Collect(start, end)

		if err := stream.Send(resp); err != nil {
			return fmt.Errorf("%w: response %q: %v", ErrTransportWrite, req.RequestID, err)
		}
	}
}

// PingPong echoes the client id, the client send timestamp and the payload
// untouched, and stamps the server time.
func (s *Service) PingPong(ctx context.Context, req *PingRequest) (*PongResponse, error) {
	start := s.metrics.Now()
	resp := &PongResponse{
		ClientID:        req.ClientID,
		ClientTimestamp: req.SendTimestamp,
		ServerTimestamp: NewTimestamp(start),
		Payload:         echo(req.Payload),
	}
	resp.Metrics = s.metrics.Collect(start, s.metrics.Now())
	return resp, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
