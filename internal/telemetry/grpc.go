package telemetry

import (
	"context"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		done := m.begin(TransportGRPC)
		defer done()

		start := time.Now()
		resp, err := handler(ctx, req)
		m.ObserveCall(TransportGRPC, path.Base(info.FullMethod), status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

func (m *Metrics) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		done := m.begin(TransportGRPC)
		defer done()

		pattern := path.Base(info.FullMethod)
		start := time.Now()
		err := handler(srv, &countingStream{ServerStream: ss, metrics: m, pattern: pattern})
		m.ObserveCall(TransportGRPC, pattern, status.Code(err).String(), time.Since(start))
		return err
	}
}

type countingStream struct {
	grpc.ServerStream
	metrics *Metrics
	pattern string
}

func (s *countingStream) SendMsg(msg any) error {
	err := s.ServerStream.SendMsg(msg)
	if err == nil {
		s.metrics.StreamMessage(TransportGRPC, s.pattern, DirectionSent)
	}
	return err
}

func (s *countingStream) RecvMsg(msg any) error {
	err := s.ServerStream.RecvMsg(msg)
	if err == nil {
		s.metrics.StreamMessage(TransportGRPC, s.pattern, DirectionReceived)
	}
	return err
}
