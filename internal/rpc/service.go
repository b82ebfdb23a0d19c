// Package rpc exposes the performance-test patterns as the gRPC service
// perftest.PerformanceTest. Messages travel with the JSON codec from
// internal/codec, so the service is described by hand instead of by
// generated protobuf code.
package rpc

import (
	"context"

	"github.com/alarmfox/perftest/internal/pbench"
	"google.golang.org/grpc"
)

const ServiceName = "perftest.PerformanceTest"

const (
	methodUnaryCall              = "/" + ServiceName + "/UnaryCall"
	methodServerStreaming        = "/" + ServiceName + "/ServerStreaming"
	methodClientStreaming        = "/" + ServiceName + "/ClientStreaming"
	methodBidirectionalStreaming = "/" + ServiceName + "/BidirectionalStreaming"
	methodPingPong               = "/" + ServiceName + "/PingPong"
	methodBatchProcess           = "/" + ServiceName + "/BatchProcess"
)

// PerformanceTestServer is the server API for the PerformanceTest service.
type PerformanceTestServer interface {
	UnaryCall(context.Context, *pbench.TestRequest) (*pbench.TestResponse, error)
	ServerStreaming(*pbench.StreamRequest, ServerStreamingServer) error
	ClientStreaming(ClientStreamingServer) error
	BidirectionalStreaming(BidirectionalStreamingServer) error
	PingPong(context.Context, *pbench.PingRequest) (*pbench.PongResponse, error)
	BatchProcess(context.Context, *pbench.BatchRequest) (*pbench.BatchResponse, error)
}

type ServerStreamingServer interface {
	Send(*pbench.TestResponse) error
	grpc.ServerStream
}

type ClientStreamingServer interface {
	Recv() (*pbench.TestRequest, error)
	SendAndClose(*pbench.StreamResponse) error
	grpc.ServerStream
}

type BidirectionalStreamingServer interface {
	Send(*pbench.TestResponse) error
	Recv() (*pbench.TestRequest, error)
	grpc.ServerStream
}

func RegisterPerformanceTestServer(s grpc.ServiceRegistrar, srv PerformanceTestServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PerformanceTestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "UnaryCall", Handler: unaryCallHandler},
		{MethodName: "PingPong", Handler: pingPongHandler},
		{MethodName: "BatchProcess", Handler: batchProcessHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ServerStreaming", Handler: serverStreamingHandler, ServerStreams: true},
		{StreamName: "ClientStreaming", Handler: clientStreamingHandler, ClientStreams: true},
		{StreamName: "BidirectionalStreaming", Handler: bidirectionalStreamingHandler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "internal/rpc/service.go",
}

func unaryCallHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(pbench.TestRequest)
	if err := dec(in); err != nil {
		return nil, malformed(err)
	}
	if interceptor == nil {
		return srv.(PerformanceTestServer).UnaryCall(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodUnaryCall}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PerformanceTestServer).UnaryCall(ctx, req.(*pbench.TestRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func pingPongHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(pbench.PingRequest)
	if err := dec(in); err != nil {
		return nil, malformed(err)
	}
	if interceptor == nil {
		return srv.(PerformanceTestServer).PingPong(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPingPong}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PerformanceTestServer).PingPong(ctx, req.(*pbench.PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func batchProcessHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(pbench.BatchRequest)
	if err := dec(in); err != nil {
		return nil, malformed(err)
	}
	if interceptor == nil {
		return srv.(PerformanceTestServer).BatchProcess(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodBatchProcess}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PerformanceTestServer).BatchProcess(ctx, req.(*pbench.BatchRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func serverStreamingHandler(srv any, stream grpc.ServerStream) error {
	in := new(pbench.StreamRequest)
	if err := stream.RecvMsg(in); err != nil {
		return malformed(err)
	}
	return srv.(PerformanceTestServer).ServerStreaming(in, &serverStreamingServer{stream})
}

func clientStreamingHandler(srv any, stream grpc.ServerStream) error {
	return srv.(PerformanceTestServer).ClientStreaming(&clientStreamingServer{stream})
}

func bidirectionalStreamingHandler(srv any, stream grpc.ServerStream) error {
	return srv.(PerformanceTestServer).BidirectionalStreaming(&bidirectionalStreamingServer{stream})
}

type serverStreamingServer struct {
	grpc.ServerStream
}

func (x *serverStreamingServer) Send(m *pbench.TestResponse) error {
	return x.ServerStream.SendMsg(m)
}

type clientStreamingServer struct {
	grpc.ServerStream
}

func (x *clientStreamingServer) Recv() (*pbench.TestRequest, error) {
	m := new(pbench.TestRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, recvError(err)
	}
	return m, nil
}

func (x *clientStreamingServer) SendAndClose(m *pbench.StreamResponse) error {
	return x.ServerStream.SendMsg(m)
}

type bidirectionalStreamingServer struct {
	grpc.ServerStream
}

func (x *bidirectionalStreamingServer) Send(m *pbench.TestResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *bidirectionalStreamingServer) Recv() (*pbench.TestRequest, error) {
	m := new(pbench.TestRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, recvError(err)
	}
	return m, nil
}
