// Package domain contains the persistence models and contracts for the
// credits ledger: purchased grants, the immutable usage log, and the derived
// balance snapshot.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CreditGrant is a purchased or awarded block of credits. Amount is the
// remaining balance on the grant; InitialAmount preserves the purchase size
// for transaction history. Unlimited grants store both as 0 and are governed
// by the flag alone. Expired grants are never deleted, only excluded from
// balance computation.
type CreditGrant struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID       snowflake.ID `gorm:"not null;index" json:"owner_id"`
	Amount        int64        `gorm:"not null" json:"amount"`
	InitialAmount int64        `gorm:"not null" json:"initial_amount"`
	IsUnlimited   bool         `gorm:"not null;default:false" json:"is_unlimited"`
	PurchasedAt   time.Time    `gorm:"not null" json:"purchased_at"`
	ExpiresAt     time.Time    `gorm:"not null;index" json:"expires_at"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (CreditGrant) TableName() string { return "credit_grants" }

// Active reports whether the grant still contributes to balance.
func (g CreditGrant) Active(now time.Time) bool {
	return g.ExpiresAt.After(now)
}

// UsageKind tags entries in the usage log.
type UsageKind string

const (
	// UsageKindCharge records a debit taken before a billable action.
	UsageKindCharge UsageKind = "charge"
	// UsageKindReversal compensates a charge whose action failed. The
	// original charge is never deleted; the pair nets to zero.
	UsageKindReversal UsageKind = "reversal"
	// UsageKindAttempt logs a failed unlimited-path action. No balance
	// moved, the entry exists for observability only.
	UsageKindAttempt UsageKind = "attempt"
)

// UsageRecord is an immutable log entry of a consumption attempt.
type UsageRecord struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	OwnerID       snowflake.ID   `gorm:"not null;index" json:"owner_id"`
	Amount        int64          `gorm:"not null" json:"amount"`
	Feature       string         `gorm:"type:text;not null" json:"feature"`
	Model         *string        `gorm:"type:text" json:"model,omitempty"`
	UnlimitedUsed bool           `gorm:"not null;default:false" json:"unlimited_used"`
	Kind          UsageKind      `gorm:"type:text;not null" json:"kind"`
	Allocations   datatypes.JSON `gorm:"type:jsonb" json:"-"`
	OccurredAt    time.Time      `gorm:"not null;index" json:"occurred_at"`
	CreatedAt     time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"-"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "credit_usage" }

// DebitAllocation records how much of a charge came out of which grant, so a
// refund can return the credits to the grants they were taken from.
type DebitAllocation struct {
	GrantID snowflake.ID `json:"grant_id"`
	Amount  int64        `json:"amount"`
}

// Balance is the derived ledger view for one owner. It is a snapshot: the
// ledger rebuilds it by re-querying the store after any mutation, and no
// other component writes to it.
type Balance struct {
	OwnerID snowflake.ID `json:"owner_id"`
	// Grants holds the active grants ascending by expiry.
	Grants []CreditGrant `json:"grants"`
	// Metered is the sum of amounts over active non-unlimited grants.
	Metered int64 `json:"metered"`
	// UnlimitedUntil is the latest expiry among active unlimited grants,
	// nil when the owner has none.
	UnlimitedUntil *time.Time `json:"unlimited_until,omitempty"`
	AsOf           time.Time  `json:"as_of"`
}

// HasUnlimited reports whether an unlimited window covers the given instant.
func (b *Balance) HasUnlimited(now time.Time) bool {
	return b.UnlimitedUntil != nil && b.UnlimitedUntil.After(now)
}

// CanAfford reports whether a charge of required credits is covered, either
// by an active unlimited window or by the metered balance. A zero amount is
// always affordable. Monotonic: affordable at n implies affordable at m<=n.
func (b *Balance) CanAfford(required int64, now time.Time) bool {
	if required < 0 {
		return false
	}
	if b.HasUnlimited(now) {
		return true
	}
	return b.Metered >= required
}
