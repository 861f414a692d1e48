package tracehelpers

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"google.golang.org/grpc/status"
)

// SetStatus records err (or OK when nil) as the final status of span. Errors coming back
// from the log service keep their gRPC code; context errors map to their trace equivalents.
func SetStatus(err error, span *trace.Span) {
	span.SetStatus(Status(err))
}

// Status converts err into a trace.Status without touching a span
func Status(err error) trace.Status {
	if err == nil {
		return trace.Status{Code: trace.StatusCodeOK}
	}

	if grpcStatus, ok := status.FromError(errors.Cause(err)); ok {
		return trace.Status{
			Code:    int32(grpcStatus.Code()),
			Message: grpcStatus.Message(),
		}
	}

	code := trace.StatusCodeUnknown
	switch {
	case errors.Is(err, context.Canceled):
		code = trace.StatusCodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		code = trace.StatusCodeDeadlineExceeded
	}

	return trace.Status{
		Code:    int32(code),
		Message: err.Error(),
	}
}
