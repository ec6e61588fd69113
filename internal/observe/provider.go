package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName is reported when [ProviderConfig.ServiceName] is empty.
const DefaultServiceName = "facechat"

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry.
	ServiceName string

	// ServiceVersion is the build version reported in telemetry.
	ServiceVersion string

	// InstanceID identifies this process. A random UUID when empty.
	InstanceID string

	// Attributes are added to the resource, e.g. the listen address.
	Attributes []attribute.KeyValue

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter

	// NoGlobal keeps the providers out of the otel globals. Tests set it so
	// parallel runs do not fight over the global meter provider.
	NoGlobal bool
}

// Telemetry bundles the SDK providers of one facechat process.
type Telemetry struct {
	// Metrics records onto the Prometheus-backed meter provider.
	Metrics *Metrics

	// Resource describes the process in every exported series and span.
	Resource *resource.Resource

	registry *prometheus.Registry
	shutdown []func(context.Context) error
}

// InitProvider builds the telemetry stack:
//
//   - a private Prometheus registry with Go runtime and process collectors,
//     fed by the OTel Prometheus exporter and served by [Telemetry.Handler];
//   - a [sdkmetric.MeterProvider] on that exporter and the application
//     [Metrics] built from it;
//   - a [sdktrace.TracerProvider] batching into cfg.TraceExporter, if any.
//
// Unless cfg.NoGlobal is set both providers become the otel globals, so
// [DefaultMetrics] and [StartSpan] use them too. Call [Telemetry.Shutdown]
// before exit to flush.
func InitProvider(_ context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	attrs := append([]attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.ServiceInstanceID(cfg.InstanceID),
	}, cfg.Attributes...)
	// Schemaless so the merge never conflicts with the SDK default's schema.
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	reg := prometheus.NewRegistry()
	if err := errors.Join(
		reg.Register(collectors.NewGoCollector()),
		reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
	); err != nil {
		return nil, fmt.Errorf("observe: register collectors: %w", err)
	}
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	metrics, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	if !cfg.NoGlobal {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	}

	return &Telemetry{
		Metrics:  metrics,
		Resource: res,
		registry: reg,
		shutdown: []func(context.Context) error{mp.Shutdown, tp.Shutdown},
	}, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Shutdown flushes and closes the meter and tracer providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
