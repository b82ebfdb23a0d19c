package pbench

import (
	"context"
	"io"
)

// LocalClient calls a Service in-process. It measures the handlers without
// any transport cost.
type LocalClient struct {
	service *Service
}

var _ Client = (*LocalClient)(nil)

func NewLocalClient(s *Service) *LocalClient {
	return &LocalClient{service: s}
}

func (c *LocalClient) Transport() string {
	return "local"
}

func (c *LocalClient) Close() error {
	return nil
}

func (c *LocalClient) Unary(ctx context.Context, req *TestRequest) (*TestResponse, error) {
	return c.service.Unary(ctx, req)
}

func (c *LocalClient) PingPong(ctx context.Context, req *PingRequest) (*PongResponse, error) {
	return c.service.PingPong(ctx, req)
}

func (c *LocalClient) Batch(ctx context.Context, req *BatchRequest) (*BatchResponse, error) {
	return c.service.Batch(ctx, req)
}

func (c *LocalClient) ServerStream(ctx context.Context, req *StreamRequest, fn func(*TestResponse) error) error {
	return c.service.ServerStream(ctx, req, SenderFunc(fn))
}

func (c *LocalClient) ClientStream(ctx context.Context, reqs []TestRequest) (*StreamResponse, error) {
	return c.service.ClientStream(ctx, NewSliceReceiver(reqs))
}

func (c *LocalClient) Bidi(ctx context.Context, reqs []TestRequest, fn func(*TestResponse) error) error {
	return c.service.Bidi(ctx, struct {
		RequestReceiver
		ResponseSender
	}{NewSliceReceiver(reqs), SenderFunc(fn)})
}

// SenderFunc adapts a function to ResponseSender.
type SenderFunc func(*TestResponse) error

func (f SenderFunc) Send(resp *TestResponse) error {
	return f(resp)
}

// SliceReceiver replays a slice as an inbound stream, one element per Recv,
// then io.EOF.
type SliceReceiver struct {
	reqs []TestRequest
	next int
}

func NewSliceReceiver(reqs []TestRequest) *SliceReceiver {
	return &SliceReceiver{reqs: reqs}
}

func (r *SliceReceiver) Recv() (*TestRequest, error) {
	if r.next >= len(r.reqs) {
		return nil, io.EOF
	}
	req := &r.reqs[r.next]
	r.next++
	return req, nil
}
