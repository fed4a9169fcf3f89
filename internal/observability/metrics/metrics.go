package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	quotaAllowed    metric.Int64Counter
	quotaDenied     metric.Int64Counter
	counterFallback metric.Int64Counter
	generations     metric.Int64Counter
	alertsRaised    metric.Int64Counter
	schedulerRuns   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "inkwell"
	}
	meter := provider.Meter(name)

	quotaAllowed, err := meter.Int64Counter("inkwell_quota_checks_allowed_total")
	if err != nil {
		return nil, err
	}
	quotaDenied, err := meter.Int64Counter("inkwell_quota_checks_denied_total")
	if err != nil {
		return nil, err
	}
	counterFallback, err := meter.Int64Counter("inkwell_quota_counter_fallback_total")
	if err != nil {
		return nil, err
	}
	generations, err := meter.Int64Counter("inkwell_generations_total")
	if err != nil {
		return nil, err
	}
	alertsRaised, err := meter.Int64Counter("inkwell_admin_alerts_total")
	if err != nil {
		return nil, err
	}
	schedulerRuns, err := meter.Int64Counter("inkwell_scheduler_job_runs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		quotaAllowed:    quotaAllowed,
		quotaDenied:     quotaDenied,
		counterFallback: counterFallback,
		generations:     generations,
		alertsRaised:    alertsRaised,
		schedulerRuns:   schedulerRuns,
	}, nil
}

// RecordQuotaDecision increments the allow or deny counter for a check.
func (m *Metrics) RecordQuotaDecision(ctx context.Context, scope, kind string, allowed bool, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("scope", strings.TrimSpace(scope)),
		attribute.String("resource_kind", strings.TrimSpace(kind)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	if allowed {
		m.quotaAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}
	m.quotaDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCounterFallback counts checks that could not use the shared counter.
func (m *Metrics) RecordCounterFallback(ctx context.Context, scope string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("scope", strings.TrimSpace(scope)))
	m.counterFallback.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGeneration counts lifecycle outcomes (started, success, failed, unlogged).
func (m *Metrics) RecordGeneration(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("resource_kind", strings.TrimSpace(kind)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.generations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAlertRaised counts admin alerts by type.
func (m *Metrics) RecordAlertRaised(ctx context.Context, alertType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("alert_type", strings.TrimSpace(alertType)))
	m.alertsRaised.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSchedulerRun counts job executions by result.
func (m *Metrics) RecordSchedulerRun(ctx context.Context, job, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.schedulerRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"scope":         {},
	"resource_kind": {},
	"reason":        {},
	"outcome":       {},
	"alert_type":    {},
	"job":           {},
	"result":        {},
	"route":         {},
	"method":        {},
	"status_code":   {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
