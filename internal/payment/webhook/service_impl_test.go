package webhook

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/learnify/learnify/internal/clock"
	"github.com/learnify/learnify/internal/config"
	creditdomain "github.com/learnify/learnify/internal/credit/domain"
	creditrepo "github.com/learnify/learnify/internal/credit/repository"
	creditservice "github.com/learnify/learnify/internal/credit/service"
	"github.com/learnify/learnify/internal/payment/adapters"
	paymentdomain "github.com/learnify/learnify/internal/payment/domain"
	"github.com/learnify/learnify/internal/pricing"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stubFactory hands back pre-parsed events without touching the network.
type stubFactory struct {
	event *paymentdomain.PaymentEvent
	err   error
}

func (f *stubFactory) Provider() string { return "paypal" }

func (f *stubFactory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	return &stubAdapter{event: f.event, err: f.err}, nil
}

type stubAdapter struct {
	event *paymentdomain.PaymentEvent
	err   error
}

func (a *stubAdapter) Provider() string { return "paypal" }

func (a *stubAdapter) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.PaymentEvent, error) {
	if a.err != nil {
		return nil, a.err
	}
	event := *a.event
	event.RawPayload = payload
	return &event, nil
}

func setupWebhook(t *testing.T, factory paymentdomain.AdapterFactory) (paymentdomain.Service, creditdomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&creditdomain.CreditGrant{},
		&creditdomain.UsageRecord{},
		&paymentdomain.EventRecord{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	credits := creditservice.NewService(creditservice.Params{
		Repo:  creditrepo.Provide(db),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})

	holder, err := pricing.NewStaticHolder(pricing.DefaultTable())
	if err != nil {
		t.Fatalf("static holder: %v", err)
	}

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Credits:  credits,
		Pricing:  pricing.NewService(holder),
		Adapters: adapters.NewRegistry(factory),
		Cfg:      config.Config{},
	})
	return svc, credits, db, node
}

func TestIngestWebhookGrantsPackage(t *testing.T) {
	owner := snowflake.ID(900001)
	factory := &stubFactory{event: &paymentdomain.PaymentEvent{
		Provider:        "paypal",
		ProviderEventID: "WH-1",
		Type:            paymentdomain.EventTypePaymentSucceeded,
		OwnerID:         owner,
		PackageID:       "credits-200",
		AmountCents:     1599,
		Currency:        "USD",
		OccurredAt:      time.Now().UTC(),
	}}
	svc, credits, db, _ := setupWebhook(t, factory)

	if err := svc.IngestWebhook(context.Background(), "paypal", []byte(`{"ok":true}`), http.Header{}); err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}

	balance, err := credits.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.Metered != 200 {
		t.Fatalf("expected 200 credits granted, got %d", balance.Metered)
	}

	var record paymentdomain.EventRecord
	if err := db.Where("provider_event_id = ?", "WH-1").First(&record).Error; err != nil {
		t.Fatalf("load event record: %v", err)
	}
	if record.GrantID == nil {
		t.Fatalf("event record not linked to grant")
	}
}

func TestIngestWebhookIsIdempotent(t *testing.T) {
	owner := snowflake.ID(900002)
	factory := &stubFactory{event: &paymentdomain.PaymentEvent{
		Provider:        "paypal",
		ProviderEventID: "WH-2",
		Type:            paymentdomain.EventTypePaymentSucceeded,
		OwnerID:         owner,
		PackageID:       "credits-50",
	}}
	svc, credits, _, _ := setupWebhook(t, factory)

	for i := 0; i < 3; i++ {
		if err := svc.IngestWebhook(context.Background(), "paypal", []byte(`{}`), http.Header{}); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	balance, err := credits.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.Metered != 50 {
		t.Fatalf("redelivered event granted more than once: %d", balance.Metered)
	}
}

func TestIngestWebhookUnlimitedPackage(t *testing.T) {
	owner := snowflake.ID(900003)
	factory := &stubFactory{event: &paymentdomain.PaymentEvent{
		Provider:        "paypal",
		ProviderEventID: "WH-3",
		Type:            paymentdomain.EventTypePaymentSucceeded,
		OwnerID:         owner,
		PackageID:       "unlimited-30",
	}}
	svc, credits, _, _ := setupWebhook(t, factory)

	if err := svc.IngestWebhook(context.Background(), "paypal", []byte(`{}`), http.Header{}); err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}

	balance, err := credits.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if !balance.HasUnlimited(balance.AsOf) {
		t.Fatalf("expected unlimited window, got %+v", balance)
	}
	if balance.Metered != 0 {
		t.Fatalf("unlimited purchase leaked metered credits: %d", balance.Metered)
	}
}

func TestIngestWebhookFailedPaymentGrantsNothing(t *testing.T) {
	owner := snowflake.ID(900004)
	factory := &stubFactory{event: &paymentdomain.PaymentEvent{
		Provider:        "paypal",
		ProviderEventID: "WH-4",
		Type:            paymentdomain.EventTypePaymentFailed,
		OwnerID:         owner,
		PackageID:       "credits-50",
	}}
	svc, credits, _, _ := setupWebhook(t, factory)

	if err := svc.IngestWebhook(context.Background(), "paypal", []byte(`{}`), http.Header{}); err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}

	balance, err := credits.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.Metered != 0 || len(balance.Grants) != 0 {
		t.Fatalf("failed payment must not grant: %+v", balance)
	}
}

func TestIngestWebhookIgnoredEvent(t *testing.T) {
	factory := &stubFactory{err: paymentdomain.ErrEventIgnored}
	svc, _, db, _ := setupWebhook(t, factory)

	if err := svc.IngestWebhook(context.Background(), "paypal", []byte(`{}`), http.Header{}); err != nil {
		t.Fatalf("ignored events must be acknowledged: %v", err)
	}

	var n int64
	if err := db.Model(&paymentdomain.EventRecord{}).Count(&n).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 0 {
		t.Fatalf("ignored event was recorded: %d", n)
	}
}

func TestIngestWebhookUnknownProvider(t *testing.T) {
	svc, _, _, _ := setupWebhook(t, &stubFactory{event: &paymentdomain.PaymentEvent{}})
	err := svc.IngestWebhook(context.Background(), "stripe", []byte(`{}`), http.Header{})
	if err != paymentdomain.ErrProviderNotFound {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}
