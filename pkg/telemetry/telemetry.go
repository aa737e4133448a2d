package telemetry

import (
	"context"
	"errors"
	"fuzzrig/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Telemetry exposes the exporters of one fuzzrig invocation. Spans cover the
// build and engine executions of a command; the logger mirrors zap records.
type Telemetry interface {
	GetTracer() trace.Tracer
	GetLogger() log.Logger
}

type otlpTelemetry struct {
	tracer trace.Tracer
	logger log.Logger
}

type TelemetryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.AppConfig
}

// NewTelemetry returns nil when no OTLP endpoint is configured.
func NewTelemetry(p TelemetryParams) (Telemetry, error) {
	endpoint := p.Config.OtelEndpoint
	if endpoint == "" {
		return nil, nil
	}
	exportCtx, cancel := context.WithCancel(context.Background())

	traceExp, err := otlptracegrpc.New(exportCtx, otlptracegrpc.WithEndpointURL(endpoint))
	if err != nil {
		cancel()
		return nil, err
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		attribute.String("service.name", p.Config.ServiceName),
		attribute.String("fuzzrig.fuzz_dir", p.Config.FuzzDir),
	)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// the log exporter is optional, spans are still exported without it
	var logProvider *sdklog.LoggerProvider
	var logger log.Logger
	if logExp, err := otlploggrpc.New(exportCtx, otlploggrpc.WithEndpointURL(endpoint)); err == nil {
		logProvider = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
			sdklog.WithResource(res),
		)
		logger = logProvider.Logger(p.Config.ServiceName)
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			defer cancel()
			err := traceProvider.Shutdown(ctx)
			if logProvider != nil {
				err = errors.Join(err, logProvider.Shutdown(ctx))
			}
			return err
		},
	})

	return &otlpTelemetry{traceProvider.Tracer(p.Config.ServiceName), logger}, nil
}

func (t *otlpTelemetry) GetTracer() trace.Tracer {
	return t.tracer
}

func (t *otlpTelemetry) GetLogger() log.Logger {
	return t.logger
}
