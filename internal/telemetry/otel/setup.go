// Package otel builds the OpenTelemetry tracer, meter and logger providers of the API
// and exports them to an OTLP gRPC collector.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const defaultMetricInterval = 10 * time.Second

// Config selects the collector and labels every exported signal.
type Config struct {
	// Endpoint is OTEL_EXPORTER_OTLP_ENDPOINT. Empty keeps all signals in process.
	Endpoint string
	// Insecure forces plaintext even for an https endpoint.
	Insecure       bool
	ServiceName    string
	Environment    string
	MetricInterval time.Duration
}

// Providers holds the three SDK providers of the process.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Resource       *resource.Resource

	log      zerolog.Logger
	shutdown []func(context.Context) error
}

// NewProviders builds the providers for cfg. Exporters dial lazily, so an unreachable
// collector does not fail startup.
func NewProviders(ctx context.Context, cfg Config, log zerolog.Logger) (*Providers, error) {
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}
	p := &Providers{Resource: res, log: log}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		p.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		p.MeterProvider = metric.NewMeterProvider(metric.WithResource(res))
		p.LoggerProvider = sdklog.NewLoggerProvider(sdklog.WithResource(res))
		return p, nil
	}

	host, useTLS, err := collectorTarget(endpoint)
	if err != nil {
		return nil, err
	}
	plaintext := cfg.Insecure || !useTLS
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = defaultMetricInterval
	}

	traceExp, err := otlptracegrpc.New(ctx, exporterOptions(host, plaintext, otlptracegrpc.WithEndpoint, otlptracegrpc.WithInsecure)...)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	p.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	p.shutdown = append(p.shutdown, p.TracerProvider.Shutdown)

	metricExp, err := otlpmetricgrpc.New(ctx, exporterOptions(host, plaintext, otlpmetricgrpc.WithEndpoint, otlpmetricgrpc.WithInsecure)...)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	p.MeterProvider = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(interval))),
	)
	p.shutdown = append(p.shutdown, p.MeterProvider.Shutdown)

	logExp, err := otlploggrpc.New(ctx, exporterOptions(host, plaintext, otlploggrpc.WithEndpoint, otlploggrpc.WithInsecure)...)
	if err != nil {
		_ = p.Shutdown(ctx)
		return nil, fmt.Errorf("log exporter: %w", err)
	}
	p.LoggerProvider = sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res))
	p.shutdown = append(p.shutdown, p.LoggerProvider.Shutdown)

	log.Info().Str("collector", host).Bool("plaintext", plaintext).Msg("telemetry: exporting over otlp grpc")
	return p, nil
}

// Shutdown flushes and stops the exporting providers, last started first.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(p.shutdown) - 1; i >= 0; i-- {
		if err := p.shutdown[i](ctx); err != nil {
			p.log.Error().Err(err).Msg("telemetry: provider shutdown")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetGlobal installs the tracer and meter providers and the W3C propagator globally
// for the HTTP middleware and otelgrpc.
// The LoggerProvider stays local; pass it to NewEventEmitter.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironmentName(cfg.Environment)))
	}
	return resource.New(ctx, attrs...)
}

// collectorTarget reduces endpoint to the host:port the gRPC exporters dial.
// Scheme-less endpoints are treated as http.
func collectorTarget(endpoint string) (host string, useTLS bool, err error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

func exporterOptions[O any](host string, plaintext bool, withEndpoint func(string) O, withInsecure func() O) []O {
	opts := []O{withEndpoint(host)}
	if plaintext {
		opts = append(opts, withInsecure())
	}
	return opts
}
