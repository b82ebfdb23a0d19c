package rpc

import (
	"context"
	"errors"
	"io"

	"github.com/alarmfox/perftest/internal/pbench"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// malformed turns a decode failure into InvalidArgument. Errors that already
// carry a meaningful code (size limits, cancellation) are kept.
func malformed(err error) error {
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Internal, codes.Unknown:
		default:
			return err
		}
	}
	return status.Errorf(codes.InvalidArgument, "%v: %v", pbench.ErrMalformedInput, err)
}

// recvError classifies an inbound stream error. grpc reports unmarshal
// failures as Internal.
func recvError(err error) error {
	if errors.Is(err, io.EOF) {
		return err
	}
	if status.Code(err) == codes.Internal {
		return malformed(err)
	}
	return err
}

// toStatus maps core errors onto gRPC status codes. A failed stream write
// means the consumer is gone, so nothing is reported.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pbench.ErrTransportWrite):
		return nil
	case errors.Is(err, pbench.ErrMalformedInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}
