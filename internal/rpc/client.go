package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/alarmfox/perftest/internal/codec"
	"github.com/alarmfox/perftest/internal/pbench"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls the PerformanceTest service over an existing connection.
type Client struct {
	conn *grpc.ClientConn
}

var _ pbench.Client = (*Client)(nil)

// DialOptions are the options Dial uses. Tests add their own dialer on top.
func DialOptions(maxMsgSize int) []grpc.DialOption {
	if maxMsgSize <= 0 {
		maxMsgSize = DefaultMaxMsgSize
	}
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(codec.Name),
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
	}
}

func Dial(target string, maxMsgSize int, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, append(DialOptions(maxMsgSize), opts...)...)
	if err != nil {
		return nil, fmt.Errorf("grpc client for %s: %w", target, err)
	}
	return NewClient(conn), nil
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Transport() string {
	return "grpc"
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Unary(ctx context.Context, req *pbench.TestRequest) (*pbench.TestResponse, error) {
	out := new(pbench.TestResponse)
	if err := c.conn.Invoke(ctx, methodUnaryCall, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PingPong(ctx context.Context, req *pbench.PingRequest) (*pbench.PongResponse, error) {
	out := new(pbench.PongResponse)
	if err := c.conn.Invoke(ctx, methodPingPong, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Batch(ctx context.Context, req *pbench.BatchRequest) (*pbench.BatchResponse, error) {
	out := new(pbench.BatchResponse)
	if err := c.conn.Invoke(ctx, methodBatchProcess, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ServerStream(ctx context.Context, req *pbench.StreamRequest, fn func(*pbench.TestResponse) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], methodServerStreaming)
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		m := new(pbench.TestResponse)
		err := stream.RecvMsg(m)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
}

func (c *Client) ClientStream(ctx context.Context, reqs []pbench.TestRequest) (*pbench.StreamResponse, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[1], methodClientStreaming)
	if err != nil {
		return nil, err
	}
	for i := range reqs {
		if err := stream.SendMsg(&reqs[i]); err != nil {
			if errors.Is(err, io.EOF) {
				// the server already answered; RecvMsg below carries the status
				break
			}
			return nil, err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	out := new(pbench.StreamResponse)
	if err := stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Bidi sends one request and waits for its response before sending the next.
func (c *Client) Bidi(ctx context.Context, reqs []pbench.TestRequest, fn func(*pbench.TestResponse) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[2], methodBidirectionalStreaming)
	if err != nil {
		return err
	}
	for i := range reqs {
		if err := stream.SendMsg(&reqs[i]); err != nil {
			return err
		}
		m := new(pbench.TestResponse)
		if err := stream.RecvMsg(m); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	if err := stream.RecvMsg(new(pbench.TestResponse)); !errors.Is(err, io.EOF) {
		if err == nil {
			return fmt.Errorf("bidirectional stream: unexpected trailing response")
		}
		return err
	}
	return nil
}
