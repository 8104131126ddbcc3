// Package traces wires OpenTelemetry tracing for ad sales, payment
// settlement and resume access checks.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mbd888/jobads"

// Config selects where spans go and how many are kept.
type Config struct {
	Endpoint    string  // OTLP gRPC host:port; empty disables export
	Environment string  // deployment.environment resource attribute
	SampleRatio float64 // fraction of root spans kept; <=0 or >=1 keeps all
	Version     string
}

// Init installs a global tracer provider exporting to cfg.Endpoint and
// returns its shutdown func. With no endpoint it installs nothing and the
// returned func is a no-op.
func Init(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("jobads"),
			semconv.ServiceVersion(cfg.Version),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a span named name carrying attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Fail records err on span and marks it failed.
func Fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func AccountID(id string) attribute.KeyValue {
	return attribute.String("account.id", id)
}

func AdID(id string) attribute.KeyValue {
	return attribute.String("ad.id", id)
}

func OrderID(id string) attribute.KeyValue {
	return attribute.String("order.id", id)
}

func Tier(tier string) attribute.KeyValue {
	return attribute.String("ad.tier", tier)
}

func ResourceID(id string) attribute.KeyValue {
	return attribute.String("resume.id", id)
}

// Decision tags the outcome of a resume access check.
func Decision(allowed bool, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool("access.allowed", allowed),
		attribute.String("access.reason", reason),
	}
}
