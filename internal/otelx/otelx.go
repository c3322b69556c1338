// Package otelx wires OpenTelemetry tracing for the demos router.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"

	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

// DialTimeout bounds the exporter connect, the collector is a local agent.
const DialTimeout = 3 * time.Second

const (
	spanQueueSize = 2048
	spanFlushEach = 5 * time.Second
)

// Options configures the tracer provider. Service and Component join into
// the service.name resource attribute, e.g. "linnemanlabs-demos.server".
type Options struct {
	Enabled   bool
	Endpoint  string
	Insecure  bool
	Sample    float64
	Service   string
	Component string
	Version   string
}

func (o Options) serviceName() string { return o.Service + "." + o.Component }

// Init installs the global tracer provider and propagator and returns the
// provider's shutdown. With tracing disabled the provider still mints span
// ids for logs and response headers but exports nothing.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, o)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(o.Sample)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(spanQueueSize),
			sdktrace.WithBatchTimeout(spanFlushEach),
		),
		sdktrace.WithResource(newResource(ctx, o)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, o Options) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(o.Service + "/" + o.Version)),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otlp exporter endpoint=%s", o.Endpoint)
	}
	return exp, nil
}

// newResource describes this process. Detector failures only drop the
// attributes they would have added, so a partial resource is still used.
func newResource(ctx context.Context, o Options) *resource.Resource {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.serviceName()),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)
	if err != nil && res == nil {
		return resource.NewSchemaless(
			semconv.ServiceNameKey.String(o.serviceName()),
			semconv.ServiceVersionKey.String(o.Version),
		)
	}
	return res
}

// sampler honours an upstream sampling decision and otherwise keeps a
// ratio of new traces, clamped to [0,1].
func sampler(ratio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampSample(ratio)))
}

func clampSample(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
