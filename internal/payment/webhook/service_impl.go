package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/learnify/learnify/internal/clock"
	"github.com/learnify/learnify/internal/config"
	creditdomain "github.com/learnify/learnify/internal/credit/domain"
	obsmetrics "github.com/learnify/learnify/internal/observability/metrics"
	"github.com/learnify/learnify/internal/payment/adapters"
	paymentdomain "github.com/learnify/learnify/internal/payment/domain"
	"github.com/learnify/learnify/internal/pricing"
	"github.com/learnify/learnify/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Credits    creditdomain.Service
	Pricing    *pricing.Service
	Adapters   *adapters.Registry
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	credits    creditdomain.Service
	pricing    *pricing.Service
	adapters   *adapters.Registry
	cfg        config.Config
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		credits:    p.Credits,
		pricing:    p.Pricing,
		adapters:   p.Adapters,
		cfg:        p.Cfg,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		BaseURL:      s.cfg.PayPal.BaseURL,
		ClientID:     s.cfg.PayPal.ClientID,
		ClientSecret: s.cfg.PayPal.ClientSecret,
		WebhookID:    s.cfg.PayPal.WebhookID,
	})
	if err != nil {
		return err
	}

	event, err := adapter.ParseWebhook(ctx, payload, headers)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}

	s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	return s.apply(ctx, event)
}

func (s *Service) apply(ctx context.Context, event *paymentdomain.PaymentEvent) error {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		OwnerID:         event.OwnerID,
		PackageID:       event.PackageID,
		Payload:         event.RawPayload,
		ReceivedAt:      s.clock.Now(),
	}

	// The insert is the idempotency gate: a redelivered event hits the
	// unique constraint and is acknowledged without granting again.
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			s.log.Info("payment event already processed",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID),
			)
			return nil
		}
		return err
	}

	if event.Type != paymentdomain.EventTypePaymentSucceeded {
		s.log.Warn("payment did not complete",
			zap.String("provider", event.Provider),
			zap.String("event_type", event.Type),
			zap.String("owner_id", event.OwnerID.String()),
		)
		return nil
	}

	pkg, err := s.pricing.PackageByID(event.PackageID)
	if err != nil {
		// Keep the record so the delivery is not retried forever; an
		// unknown package needs operator attention, not replays.
		s.log.Error("purchase references unknown package",
			zap.String("package_id", event.PackageID),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return err
	}

	grant, err := s.credits.AddGrant(ctx, creditdomain.AddGrantRequest{
		OwnerID:     event.OwnerID,
		Amount:      pkg.Credits,
		IsUnlimited: pkg.Unlimited,
		ExpiryDays:  pkg.DurationDays,
	})
	if err != nil {
		// Drop the barrier so the provider's retry can grant later.
		if delErr := s.db.WithContext(ctx).Delete(record).Error; delErr != nil {
			s.log.Error("failed to release idempotency barrier", zap.Error(delErr))
		}
		return err
	}

	if err := s.db.WithContext(ctx).
		Model(record).
		Update("grant_id", grant.ID).Error; err != nil {
		s.log.Warn("failed to link grant to payment event", zap.Error(err))
	}

	s.log.Info("purchase applied",
		zap.String("owner_id", event.OwnerID.String()),
		zap.String("package_id", pkg.ID),
		zap.Int64("credits", pkg.Credits),
		zap.Bool("unlimited", pkg.Unlimited),
		zap.String("grant_id", grant.ID.String()),
	)
	return nil
}
