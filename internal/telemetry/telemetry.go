// Package telemetry sets up OpenTelemetry tracing and wraps pipeline stages
// in spans.
package telemetry

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ScopeName is the instrumentation scope of every span the service starts.
const ScopeName = "github.com/p-blackswan/appforge"

// Shutdown flushes and stops the exporter.
type Shutdown func(context.Context) error

// Init installs a TracerProvider exporting over OTLP gRPC to endpoint. With
// an empty endpoint tracing stays disabled and the global no-op provider is
// kept.
func Init(ctx context.Context, endpoint, serviceName string, logger zerolog.Logger) (Shutdown, error) {
	logger = logger.With().Str("component", "telemetry").Logger()
	if endpoint == "" {
		logger.Debug().Msg("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	if serviceName == "" {
		serviceName = "appforge"
	}
	res := resource.NewSchemaless(semconv.ServiceName(serviceName))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info().Str("endpoint", endpoint).Str("service", serviceName).Msg("tracing enabled")

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		conn.Close()
		return err
	}, nil
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(ScopeName)
}

// StartStage opens a span for one pipeline stage. The returned func ends it,
// marking the span failed when err is non-nil.
func StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	attrs = append(attrs, attribute.String("appforge.stage", stage))
	ctx, span := Tracer().Start(ctx, "appforge."+stage, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
