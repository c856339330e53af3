package sentryhandler

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	sentry "github.com/getsentry/sentry-go"
	grpcmwtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	"gitlab.com/gitlab-org/pull-replication/internal/helper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
)

const skipSubmission = "sentry.skip"

// Errors with these codes are expected and never reported.
var ignoredCodes = map[codes.Code]struct{}{
	codes.OK:                 {},
	codes.Canceled:           {},
	codes.DeadlineExceeded:   {},
	codes.NotFound:           {},
	codes.FailedPrecondition: {},
}

// UnaryLogHandler reports errors of unary RPCs to Sentry.
func UnaryLogHandler(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	if err != nil {
		logGrpcErrorToSentry(ctx, info.FullMethod, start, err)
	}

	return resp, err
}

// StreamLogHandler reports errors of streaming RPCs to Sentry.
func StreamLogHandler(srv interface{}, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, stream)

	if err != nil {
		logGrpcErrorToSentry(stream.Context(), info.FullMethod, start, err)
	}

	return err
}

// MarkToSkip tags the context so that an error of the current RPC is not
// reported.
func MarkToSkip(ctx context.Context) {
	grpcmwtags.Extract(ctx).Set(skipSubmission, struct{}{})
}

func methodToCulprit(methodName string) string {
	methodName = strings.TrimPrefix(methodName, "/")
	return strings.Replace(methodName, "/", "::", 1)
}

func generateSentryEvent(ctx context.Context, method string, start time.Time, err error) *sentry.Event {
	code := helper.GrpcCode(err)
	if _, ignored := ignoredCodes[code]; ignored {
		return nil
	}

	tags := grpcmwtags.Extract(ctx)
	if tags.Has(skipSubmission) {
		return nil
	}

	event := sentry.NewEvent()
	for k, v := range tags.Values() {
		event.Tags[k] = fmt.Sprintf("%v", v)
	}

	event.Tags["grpc.code"] = code.String()
	event.Tags["grpc.method"] = method
	event.Tags["grpc.time_ms"] = fmt.Sprintf("%.0f", time.Since(start).Seconds()*1000)
	event.Tags["system"] = "grpc"

	culprit := methodToCulprit(method)

	event.Message = err.Error()
	event.Exception = append(event.Exception, sentry.Exception{
		Value: err.Error(),
		Type:  reflect.TypeOf(err).String(),
	})
	event.Fingerprint = []string{"grpc", culprit, code.String()}
	event.Transaction = culprit

	return event
}

func logGrpcErrorToSentry(ctx context.Context, method string, start time.Time, err error) {
	if event := generateSentryEvent(ctx, method, start, err); event != nil {
		sentry.CaptureEvent(event)
	}
}
