package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/learnify/learnify/internal/credit/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) creditdomain.Repository {
	return &repo{db: db}
}

// storeErr wraps any storage failure so callers see an unknown balance, not
// a zero one.
func storeErr(err error) error {
	return fmt.Errorf("%w: %v", creditdomain.ErrStoreUnavailable, err)
}

func (r *repo) ActiveGrants(ctx context.Context, ownerID snowflake.ID, activeAfter time.Time) ([]creditdomain.CreditGrant, error) {
	var grants []creditdomain.CreditGrant
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND expires_at > ?", ownerID, activeAfter.UTC()).
		Order("expires_at ASC").
		Find(&grants).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return grants, nil
}

func (r *repo) ListGrants(ctx context.Context, ownerID snowflake.ID) ([]creditdomain.CreditGrant, error) {
	var grants []creditdomain.CreditGrant
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("purchased_at DESC").
		Find(&grants).Error
	if err != nil {
		return nil, storeErr(err)
	}
	return grants, nil
}

func (r *repo) GetGrant(ctx context.Context, ownerID, grantID snowflake.ID) (*creditdomain.CreditGrant, error) {
	var grant creditdomain.CreditGrant
	err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", grantID, ownerID).
		First(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, creditdomain.ErrGrantNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &grant, nil
}

func (r *repo) InsertGrant(ctx context.Context, grant *creditdomain.CreditGrant) error {
	if err := r.db.WithContext(ctx).Create(grant).Error; err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *repo) InsertUsage(ctx context.Context, record *creditdomain.UsageRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return storeErr(err)
	}
	return nil
}

// ListUsage pages the log newest first. Record IDs are snowflakes, so the
// ID ordering is the time ordering.
func (r *repo) ListUsage(ctx context.Context, ownerID, beforeID snowflake.ID, limit int) ([]creditdomain.UsageRecord, error) {
	query := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if beforeID != 0 {
		query = query.Where("id < ?", beforeID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []creditdomain.UsageRecord
	if err := query.Order("id DESC").Find(&records).Error; err != nil {
		return nil, storeErr(err)
	}
	return records, nil
}

// DebitGrants drains the charge across active metered grants earliest
// expiry first. Every decrement is conditional (amount >= take) so a
// concurrent debit loses the race inside the store instead of overdrawing;
// a short covering set rolls the whole transaction back.
func (r *repo) DebitGrants(ctx context.Context, ownerID snowflake.ID, amount int64, now time.Time, charge *creditdomain.UsageRecord) ([]creditdomain.DebitAllocation, error) {
	var allocations []creditdomain.DebitAllocation

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var grants []creditdomain.CreditGrant
		if err := tx.
			Where("owner_id = ? AND is_unlimited = ? AND expires_at > ?", ownerID, false, now.UTC()).
			Order("expires_at ASC").
			Find(&grants).Error; err != nil {
			return err
		}

		remaining := amount
		for _, grant := range grants {
			if remaining == 0 {
				break
			}
			take := remaining
			if grant.Amount < take {
				take = grant.Amount
			}
			if take <= 0 {
				continue
			}

			result := tx.Model(&creditdomain.CreditGrant{}).
				Where("id = ? AND amount >= ?", grant.ID, take).
				Update("amount", gorm.Expr("amount - ?", take))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				// Drained concurrently since the read; try the next grant.
				continue
			}

			allocations = append(allocations, creditdomain.DebitAllocation{GrantID: grant.ID, Amount: take})
			remaining -= take
		}

		if remaining > 0 {
			return creditdomain.ErrInsufficientCredits
		}

		encoded, err := json.Marshal(allocations)
		if err != nil {
			return err
		}
		charge.Allocations = encoded
		return tx.Create(charge).Error
	})
	if err != nil {
		if errors.Is(err, creditdomain.ErrInsufficientCredits) {
			return nil, creditdomain.ErrInsufficientCredits
		}
		return nil, storeErr(err)
	}
	return allocations, nil
}

func (r *repo) RefundGrants(ctx context.Context, allocations []creditdomain.DebitAllocation, reversal *creditdomain.UsageRecord) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, alloc := range allocations {
			if err := tx.Model(&creditdomain.CreditGrant{}).
				Where("id = ?", alloc.GrantID).
				Update("amount", gorm.Expr("amount + ?", alloc.Amount)).Error; err != nil {
				return err
			}
		}

		encoded, err := json.Marshal(allocations)
		if err != nil {
			return err
		}
		reversal.Allocations = encoded
		return tx.Create(reversal).Error
	})
	if err != nil {
		return storeErr(err)
	}
	return nil
}
