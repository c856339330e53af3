package server

import (
	"context"
	"fmt"
	"time"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_logrus "github.com/grpc-ecosystem/go-grpc-middleware/logging/logrus"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpc_ctxtags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/sirupsen/logrus"
	grpccorrelation "gitlab.com/gitlab-org/labkit/correlation/grpc"
	grpctracing "gitlab.com/gitlab-org/labkit/tracing/grpc"
	replicationlog "gitlab.com/gitlab-org/pull-replication/internal/log"
	"gitlab.com/gitlab-org/pull-replication/internal/middleware/sentryhandler"
	"gitlab.com/gitlab-org/pull-replication/internal/middleware/statushandler"
	"gitlab.com/gitlab-org/pull-replication/internal/replication/healthcheck"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// ServiceName is the name the replication health is reported under. The
// empty service name reports the same status.
const ServiceName = "pull_replication"

func init() {
	// grpc-go gets a custom logger; it is too chatty
	grpc_logrus.ReplaceGrpcLogger(replicationlog.GrpcGo())
}

// New returns a gRPC server with the interceptor chain of the service
// installed. The health service is registered on it and the server is
// serving until health updates say otherwise.
func New(logger *logrus.Entry, healthServer *health.Server) *grpc.Server {
	recoveryOpt := grpc_recovery.WithRecoveryHandlerContext(func(ctx context.Context, p interface{}) error {
		logger.WithField("panic", p).Error("recovered from panic in gRPC handler")
		return status.Errorf(codes.Internal, "panic: %v", p)
	})

	srv := grpc.NewServer(
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
			grpc_ctxtags.StreamServerInterceptor(),
			grpccorrelation.StreamServerCorrelationInterceptor(),
			grpc_prometheus.StreamServerInterceptor,
			grpc_logrus.StreamServerInterceptor(logger,
				grpc_logrus.WithTimestampFormat(replicationlog.LogTimestampFormat)),
			sentryhandler.StreamLogHandler,
			statushandler.Stream, // Should be below LogHandler
			grpctracing.StreamServerTracingInterceptor(),
			// Panic handler should remain last so that application panics will be
			// converted to errors and logged
			grpc_recovery.StreamServerInterceptor(recoveryOpt),
		)),
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_ctxtags.UnaryServerInterceptor(),
			grpccorrelation.UnaryServerCorrelationInterceptor(),
			grpc_prometheus.UnaryServerInterceptor,
			grpc_logrus.UnaryServerInterceptor(logger,
				grpc_logrus.WithTimestampFormat(replicationlog.LogTimestampFormat)),
			sentryhandler.UnaryLogHandler,
			statushandler.Unary, // Should be below LogHandler
			grpctracing.UnaryServerTracingInterceptor(),
			grpc_recovery.UnaryServerInterceptor(recoveryOpt),
		)),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             20 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	healthpb.RegisterHealthServer(srv, healthServer)
	grpc_prometheus.Register(srv)

	return srv
}

// NewHealthServer creates the health service. With gated set the service
// reports NOT_SERVING until the first passing health check.
func NewHealthServer(gated bool) *health.Server {
	healthServer := health.NewServer()

	initial := healthpb.HealthCheckResponse_SERVING
	if gated {
		initial = healthpb.HealthCheckResponse_NOT_SERVING
	}

	setStatus(healthServer, initial)

	return healthServer
}

// HealthUpdater returns a handler publishing health check results on the
// health service.
func HealthUpdater(logger logrus.FieldLogger, healthServer *health.Server) func(healthcheck.Result) {
	return func(result healthcheck.Result) {
		servingStatus := healthpb.HealthCheckResponse_NOT_SERVING
		if result.Healthy() {
			servingStatus = healthpb.HealthCheckResponse_SERVING
		}

		logger.WithFields(logrus.Fields{
			"result":         result.String(),
			"serving_status": servingStatus.String(),
		}).Info("updating health status")

		setStatus(healthServer, servingStatus)
	}
}

func setStatus(healthServer *health.Server, servingStatus healthpb.HealthCheckResponse_ServingStatus) {
	for _, service := range []string{"", ServiceName} {
		healthServer.SetServingStatus(service, servingStatus)
	}
}

// CheckHealth queries the health service of the server at conn.
func CheckHealth(ctx context.Context, conn *grpc.ClientConn) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.Status, nil
}
