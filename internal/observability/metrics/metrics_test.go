package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsUnknownKeys(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("feature", "chatbot"),
		attribute.String("owner_id", "12345"),
		attribute.String("outcome", "ok"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "owner_id" {
			t.Fatalf("owner_id should have been filtered")
		}
	}
}

func TestRecordersTolerateNilMetrics(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordDebit(ctx, "chatbot", false)
	m.RecordRefund(ctx, "chatbot")
	m.RecordRefundFailure(ctx, "quiz")
	m.RecordGrant(ctx, true)
	m.RecordTutorRequest(ctx, "model", "error")
	m.RecordPaymentEvent(ctx, "paypal", "payment_succeeded")
}

func TestNewBuildsInstruments(t *testing.T) {
	m, err := New(Config{ServiceName: "learnify-test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	if m == nil {
		t.Fatal("expected metrics instance")
	}
	m.RecordDebit(context.Background(), "notes", true)
}
