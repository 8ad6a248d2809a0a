package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidSignature = errors.New("invalid_signature")
	// ErrEventIgnored marks event types the ledger does not act on. The
	// webhook still acknowledges them so the provider stops retrying.
	ErrEventIgnored  = errors.New("event_ignored")
	ErrInvalidOwner  = errors.New("invalid_event_owner")
	ErrInvalidConfig = errors.New("invalid_provider_config")
)

// EventRecord is the processed-webhook log. The (provider, provider_event_id)
// unique constraint is the idempotency barrier: a retried delivery hits the
// constraint and is acknowledged without granting twice.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:uq_payment_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:uq_payment_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	OwnerID         snowflake.ID   `json:"owner_id" gorm:"not null;index"`
	PackageID       string         `json:"package_id" gorm:"type:text;not null"`
	GrantID         *snowflake.ID  `json:"grant_id,omitempty"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	CreatedAt       time.Time      `json:"-" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
)

// PaymentEvent is the canonical purchase event parsed by adapters.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	OwnerID         snowflake.ID
	PackageID       string
	AmountCents     int64
	Currency        string
	OccurredAt      time.Time
	RawPayload      []byte
}

// AdapterConfig carries provider credentials.
type AdapterConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
}

// PaymentAdapter verifies and parses one provider's webhook deliveries.
type PaymentAdapter interface {
	Provider() string
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

type Service interface {
	// IngestWebhook verifies, parses, and applies one webhook delivery.
	// Applying a successful purchase adds the package's credit grant.
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}
