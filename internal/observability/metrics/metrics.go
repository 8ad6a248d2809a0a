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

// Metrics exposes application-level instruments for the credits ledger and
// the tutor gateway.
type Metrics struct {
	debits         metric.Int64Counter
	refunds        metric.Int64Counter
	refundFailures metric.Int64Counter
	grants         metric.Int64Counter
	tutorRequests  metric.Int64Counter
	paymentEvents  metric.Int64Counter
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
		name = "learnify"
	}
	meter := provider.Meter(name)

	debits, err := meter.Int64Counter("learnify_credit_debits_total")
	if err != nil {
		return nil, err
	}
	refunds, err := meter.Int64Counter("learnify_credit_refunds_total")
	if err != nil {
		return nil, err
	}
	refundFailures, err := meter.Int64Counter("learnify_credit_refund_failures_total")
	if err != nil {
		return nil, err
	}
	grants, err := meter.Int64Counter("learnify_credit_grants_total")
	if err != nil {
		return nil, err
	}
	tutorRequests, err := meter.Int64Counter("learnify_tutor_requests_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("learnify_payment_events_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		debits:         debits,
		refunds:        refunds,
		refundFailures: refundFailures,
		grants:         grants,
		tutorRequests:  tutorRequests,
		paymentEvents:  paymentEvents,
	}, nil
}

// RecordDebit counts a committed charge, metered or unlimited.
func (m *Metrics) RecordDebit(ctx context.Context, feature string, unlimited bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("feature", strings.TrimSpace(feature)),
		attribute.Bool("unlimited", unlimited),
	)
	m.debits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRefund counts a compensating reversal after a failed action.
func (m *Metrics) RecordRefund(ctx context.Context, feature string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature", strings.TrimSpace(feature)))
	m.refunds.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRefundFailure counts refunds that could not be written. Each one is
// a ledger inconsistency an operator must reconcile.
func (m *Metrics) RecordRefundFailure(ctx context.Context, feature string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature", strings.TrimSpace(feature)))
	m.refundFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordGrant counts grant creations.
func (m *Metrics) RecordGrant(ctx context.Context, unlimited bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.Bool("unlimited", unlimited))
	m.grants.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTutorRequest counts outbound model-routing calls by outcome.
func (m *Metrics) RecordTutorRequest(ctx context.Context, model, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("model", strings.TrimSpace(model)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.tutorRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent counts webhook events by provider and type.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"feature":     {},
	"model":       {},
	"outcome":     {},
	"unlimited":   {},
	"provider":    {},
	"event_type":  {},
	"endpoint":    {},
	"status_code": {},
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
