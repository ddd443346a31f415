// Package tracing exports request spans over OTLP and propagates W3C trace
// context to the target. Every span carries the run it belongs to as
// resource attributes, so traces can be joined to persisted reports.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/stampede/internal/config"
)

const (
	defaultServiceName  = "stampede"
	instrumentationName = "github.com/torosent/stampede"
	envEndpoint         = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Resource attribute keys identifying a run.
const (
	AttrRunID    = attribute.Key("stampede.run_id")
	AttrScenario = attribute.Key("stampede.scenario")
	AttrTarget   = attribute.Key("stampede.target")
)

// Run identifies the load run whose requests are traced.
type Run struct {
	ID       string
	Scenario string
	Target   string
}

func (r Run) attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if r.ID != "" {
		attrs = append(attrs, AttrRunID.String(r.ID))
	}
	if r.Scenario != "" {
		attrs = append(attrs, AttrScenario.String(r.Scenario))
	}
	if r.Target != "" {
		attrs = append(attrs, AttrTarget.String(r.Target))
	}
	return attrs
}

// Option customizes Init.
type Option func(*initOptions)

type initOptions struct {
	exporter sdktrace.SpanExporter
}

// WithExporter sends spans to exp instead of an OTLP endpoint. Tracing is
// enabled regardless of the configured endpoint.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *initOptions) { o.exporter = exp }
}

// Provider owns the tracer provider of one run.
type Provider struct {
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	res       *resource.Resource
	propagate bool
}

// Init builds the provider for run. Without an exporter option, an endpoint
// in cfg or OTEL_EXPORTER_OTLP_ENDPOINT, tracing stays disabled and the
// returned provider hands out no-op tracers.
func Init(ctx context.Context, cfg config.TracingConfig, run Run, opts ...Option) (*Provider, error) {
	var o initOptions
	for _, opt := range opts {
		opt(&o)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = os.Getenv(envEndpoint)
	}
	if o.exporter == nil && endpoint == "" {
		return &Provider{}, nil
	}

	sampler, err := newSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg.ServiceName, run)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	exporter := o.exporter
	if exporter == nil {
		exporter, err = newExporter(ctx, cfg, endpoint)
		if err != nil {
			return nil, fmt.Errorf("tracing exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:        tp,
		tracer:    tp.Tracer(instrumentationName),
		res:       res,
		propagate: cfg.Propagate,
	}, nil
}

// newResource describes the generator process and the run. Attributes from
// OTEL_RESOURCE_ATTRIBUTES are merged in, with the run attributes winning.
func newResource(ctx context.Context, serviceName string, run Run) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = os.Getenv("OTEL_SERVICE_NAME")
	}
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	attrs := append([]attribute.KeyValue{semconv.ServiceName(serviceName)}, run.attributes()...)
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(attrs...),
	)
}

// newSampler maps sample_rate onto a parent-based sampler: 1 keeps every
// trace, 0 none, anything between a trace-ID ratio.
func newSampler(rate float64) (sdktrace.Sampler, error) {
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing: sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), nil
	case rate == 0:
		return sdktrace.ParentBased(sdktrace.NeverSample()), nil
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate)), nil
	}
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.tp != nil
}

// Tracer returns the run's tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if !p.Enabled() {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer
}

// Resource returns the resource attached to every span, nil when disabled.
func (p *Provider) Resource() *resource.Resource {
	if !p.Enabled() {
		return nil
	}
	return p.res
}

// ShouldPropagate reports whether W3C trace headers go to the target.
func (p *Provider) ShouldPropagate() bool {
	return p.Enabled() && p.propagate
}

// ForceFlush exports every finished span without shutting down.
func (p *Provider) ForceFlush(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func newExporter(ctx context.Context, cfg config.TracingConfig, endpoint string) (sdktrace.SpanExporter, error) {
	switch protocol := strings.ToLower(cfg.Protocol); protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", cfg.Protocol)
	}
}
