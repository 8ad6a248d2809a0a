package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	// ErrStoreUnavailable means a persistent-store call failed: balance is
	// unknown, never assumed zero or infinite.
	ErrStoreUnavailable = errors.New("store_unavailable")
	// ErrInsufficientCredits is returned before any debit or action; no
	// side effects occurred.
	ErrInsufficientCredits = errors.New("insufficient_credits")
	// ErrActionFailed wraps a billable action that failed after a
	// successful debit; exactly one refund was applied.
	ErrActionFailed = errors.New("action_failed")
	// ErrOwnerBusy means another reservation holds the owner's debit lock.
	// The balance was not consulted and nothing was charged; the caller can
	// simply retry.
	ErrOwnerBusy = errors.New("owner_busy")
	// ErrRefundFailed wraps a compensating refund that itself failed after
	// an action failure. The ledger is inconsistent until reconciled
	// out-of-band, so this is never merged with ErrActionFailed.
	ErrRefundFailed = errors.New("refund_failed")

	ErrInvalidOwner   = errors.New("invalid_owner")
	ErrInvalidAmount  = errors.New("invalid_amount")
	ErrInvalidExpiry  = errors.New("invalid_expiry")
	ErrInvalidFeature = errors.New("invalid_feature")
	ErrGrantNotFound  = errors.New("grant_not_found")
)

// Action is the billable external call gated by the ledger. The ledger does
// not interpret its payload, only its success or failure, and invokes it at
// most once per reservation.
type Action func(ctx context.Context) (any, error)

// ReserveRequest describes one consumption attempt.
type ReserveRequest struct {
	OwnerID snowflake.ID
	Amount  int64
	Feature string
	Model   string
}

// AddGrantRequest describes a new grant. ExpiryDays of 0 takes the business
// default (30). Unlimited grants store Amount as 0 regardless of input.
type AddGrantRequest struct {
	OwnerID     snowflake.ID
	Amount      int64
	IsUnlimited bool
	ExpiryDays  int
}

// Service is the single source of truth for whether an owner can afford a
// billable action, and the only component permitted to mutate grant and
// usage storage.
type Service interface {
	LoadBalance(ctx context.Context, ownerID snowflake.ID) (*Balance, error)
	AddGrant(ctx context.Context, req AddGrantRequest) (*CreditGrant, error)
	// ReserveAndExecute debits before invoking action and refunds if the
	// action fails: at most one debit write, at most one refund write,
	// exactly one action invocation, no retries.
	ReserveAndExecute(ctx context.Context, req ReserveRequest, action Action) (any, error)
	ListGrants(ctx context.Context, ownerID snowflake.ID) ([]CreditGrant, error)
	// ListUsage returns up to limit records newest first, strictly older
	// than beforeID when it is nonzero.
	ListUsage(ctx context.Context, ownerID, beforeID snowflake.ID, limit int) ([]UsageRecord, error)
	GetGrant(ctx context.Context, ownerID, grantID snowflake.ID) (*CreditGrant, error)
}

// Repository is the store boundary. Implementations map any storage failure
// to ErrStoreUnavailable; the ledger never guesses a default on error.
type Repository interface {
	// ActiveGrants returns grants with expires_at > activeAfter, ascending
	// by expiry.
	ActiveGrants(ctx context.Context, ownerID snowflake.ID, activeAfter time.Time) ([]CreditGrant, error)
	ListGrants(ctx context.Context, ownerID snowflake.ID) ([]CreditGrant, error)
	GetGrant(ctx context.Context, ownerID, grantID snowflake.ID) (*CreditGrant, error)
	InsertGrant(ctx context.Context, grant *CreditGrant) error
	InsertUsage(ctx context.Context, record *UsageRecord) error
	ListUsage(ctx context.Context, ownerID, beforeID snowflake.ID, limit int) ([]UsageRecord, error)
	// DebitGrants atomically takes amount out of the owner's active metered
	// grants, earliest expiry first, and appends the charge record in the
	// same transaction. Returns ErrInsufficientCredits (rolled back, no
	// side effects) when the grants cannot cover the amount.
	DebitGrants(ctx context.Context, ownerID snowflake.ID, amount int64, now time.Time, charge *UsageRecord) ([]DebitAllocation, error)
	// RefundGrants returns previously debited credits to the grants they
	// came from and appends the reversal record in the same transaction.
	RefundGrants(ctx context.Context, allocations []DebitAllocation, reversal *UsageRecord) error
}
