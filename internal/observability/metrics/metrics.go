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
	webhooksIngested    metric.Int64Counter
	linesProcessed      metric.Int64Counter
	ledgerEntries       metric.Int64Counter
	billableEvents      metric.Int64Counter
	providerSubmissions metric.Int64Counter
	providerCallbacks   metric.Int64Counter
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
		name = "printforge"
	}
	meter := provider.Meter(name)

	webhooksIngested, err := meter.Int64Counter("printforge_webhooks_ingested_total")
	if err != nil {
		return nil, err
	}
	linesProcessed, err := meter.Int64Counter("printforge_order_lines_processed_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("printforge_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	billableEvents, err := meter.Int64Counter("printforge_billable_events_total")
	if err != nil {
		return nil, err
	}
	providerSubmissions, err := meter.Int64Counter("printforge_provider_submissions_total")
	if err != nil {
		return nil, err
	}
	providerCallbacks, err := meter.Int64Counter("printforge_provider_callbacks_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhooksIngested:    webhooksIngested,
		linesProcessed:      linesProcessed,
		ledgerEntries:       ledgerEntries,
		billableEvents:      billableEvents,
		providerSubmissions: providerSubmissions,
		providerCallbacks:   providerCallbacks,
	}, nil
}

// RecordWebhookIngested increments webhook ingestion counts.
func (m *Metrics) RecordWebhookIngested(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.webhooksIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLineProcessed increments order-line workflow outcome counts.
func (m *Metrics) RecordLineProcessed(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.linesProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, entryType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("entry_type", strings.TrimSpace(entryType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBillableEvent increments billable event counts.
func (m *Metrics) RecordBillableEvent(ctx context.Context, eventType, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.billableEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderSubmission increments provider submission counts.
func (m *Metrics) RecordProviderSubmission(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.providerSubmissions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderCallback increments provider callback counts.
func (m *Metrics) RecordProviderCallback(ctx context.Context, topic string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("topic", strings.TrimSpace(topic)))
	m.providerCallbacks.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"outcome":    {},
	"entry_type": {},
	"event_type": {},
	"status":     {},
	"topic":      {},
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
