package config

import (
	"io"

	opentracing "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// ConfigureJaeger installs a Jaeger tracer configured through the JAEGER_*
// environment variables as the global tracer. It returns nil when no tracer
// could be set up.
func ConfigureJaeger(serviceName string) io.Closer {
	traceCfg, err := jaegercfg.FromEnv()
	if err != nil {
		log.WithError(err).Info("Skipping jaeger configuration step")
		return nil
	}
	if traceCfg.Disabled {
		return nil
	}

	if traceCfg.ServiceName == "" {
		traceCfg.ServiceName = serviceName
	}

	tracer, closer, err := traceCfg.NewTracer()
	if err != nil {
		log.WithError(err).Warn("Could not initialize jaeger tracer")
		return nil
	}

	opentracing.SetGlobalTracer(tracer)
	return closer
}
