package statushandler

import (
	"context"
	"errors"

	"gitlab.com/gitlab-org/pull-replication/internal/helper"
	"gitlab.com/gitlab-org/pull-replication/internal/replication"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Unary is a unary server interceptor that puts gRPC codes on errors
// returned by handlers.
func Unary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	return resp, wrapErr(ctx, err)
}

// Stream is a stream server interceptor that puts gRPC codes on errors
// returned by handlers.
func Stream(srv interface{}, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	return wrapErr(stream.Context(), handler(srv, stream))
}

func wrapErr(ctx context.Context, err error) error {
	if err == nil || helper.GrpcCode(err) != codes.Unknown {
		return err
	}

	// The client went away, whatever the handler returned.
	if ctxErr := ctx.Err(); ctxErr != nil {
		code := codes.Canceled
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			code = codes.DeadlineExceeded
		}
		return status.Errorf(code, "%v", err)
	}

	return helper.DecorateError(replication.GRPCCode(err), err)
}
