package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/learnify/learnify/internal/clock"
	"github.com/learnify/learnify/internal/config"
	creditdomain "github.com/learnify/learnify/internal/credit/domain"
	obsmetrics "github.com/learnify/learnify/internal/observability/metrics"
	"github.com/learnify/learnify/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultExpiryDays = 30

// debitLocker is the slice of the billable limiter the ledger uses to
// serialize per-owner debits.
type debitLocker interface {
	Enabled() bool
	TryLockOwner(ctx context.Context, ownerID string) (string, bool, error)
	ReleaseOwner(ctx context.Context, ownerID, token string) error
}

type Params struct {
	fx.In

	Cfg        config.Config
	Repo       creditdomain.Repository
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Limiter    *ratelimit.BillableLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	repo       creditdomain.Repository
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	limiter    debitLocker
	obsMetrics *obsmetrics.Metrics
	expiryDays int
}

func NewService(p Params) creditdomain.Service {
	expiryDays := p.Cfg.GrantExpiryDays
	if expiryDays <= 0 {
		expiryDays = defaultExpiryDays
	}
	return &Service{
		repo:       p.Repo,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
		expiryDays: expiryDays,
	}
}

// LoadBalance rebuilds the derived ledger view from the store. A store
// failure propagates as ErrStoreUnavailable: the balance is unknown, not
// zero.
func (s *Service) LoadBalance(ctx context.Context, ownerID snowflake.ID) (*creditdomain.Balance, error) {
	if ownerID == 0 {
		return nil, creditdomain.ErrInvalidOwner
	}

	now := s.clock.Now()
	grants, err := s.repo.ActiveGrants(ctx, ownerID, now)
	if err != nil {
		return nil, err
	}

	balance := &creditdomain.Balance{
		OwnerID: ownerID,
		Grants:  grants,
		AsOf:    now,
	}
	for _, grant := range grants {
		if grant.IsUnlimited {
			expires := grant.ExpiresAt
			if balance.UnlimitedUntil == nil || expires.After(*balance.UnlimitedUntil) {
				balance.UnlimitedUntil = &expires
			}
			continue
		}
		balance.Metered += grant.Amount
	}
	return balance, nil
}

// AddGrant appends a new grant. Unlimited grants store amount 0; the flag
// alone governs affordability.
func (s *Service) AddGrant(ctx context.Context, req creditdomain.AddGrantRequest) (*creditdomain.CreditGrant, error) {
	if req.OwnerID == 0 {
		return nil, creditdomain.ErrInvalidOwner
	}
	if req.Amount < 0 {
		return nil, creditdomain.ErrInvalidAmount
	}
	days := req.ExpiryDays
	if days == 0 {
		days = s.expiryDays
	}
	if days < 0 {
		return nil, creditdomain.ErrInvalidExpiry
	}

	amount := req.Amount
	if req.IsUnlimited {
		amount = 0
	}

	now := s.clock.Now()
	grant := &creditdomain.CreditGrant{
		ID:            s.genID.Generate(),
		OwnerID:       req.OwnerID,
		Amount:        amount,
		InitialAmount: amount,
		IsUnlimited:   req.IsUnlimited,
		PurchasedAt:   now,
		ExpiresAt:     now.AddDate(0, 0, days),
	}
	if err := s.repo.InsertGrant(ctx, grant); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordGrant(ctx, grant.IsUnlimited)
	s.log.Info("credit grant added",
		zap.String("owner_id", grant.OwnerID.String()),
		zap.Int64("amount", grant.Amount),
		zap.Bool("unlimited", grant.IsUnlimited),
		zap.Time("expires_at", grant.ExpiresAt),
	)
	return grant, nil
}

// ReserveAndExecute is the debit-before-call protocol. The charge is written
// before the action runs, the action runs exactly once with no retries, and
// a failed action triggers exactly one compensating refund. A refund that
// itself fails surfaces as ErrRefundFailed, never folded into
// ErrActionFailed, because the ledger is then inconsistent until an
// operator reconciles it.
func (s *Service) ReserveAndExecute(ctx context.Context, req creditdomain.ReserveRequest, action creditdomain.Action) (any, error) {
	if req.OwnerID == 0 {
		return nil, creditdomain.ErrInvalidOwner
	}
	if req.Amount < 0 {
		return nil, creditdomain.ErrInvalidAmount
	}
	if strings.TrimSpace(req.Feature) == "" {
		return nil, creditdomain.ErrInvalidFeature
	}

	if s.limiter.Enabled() {
		token, locked, err := s.limiter.TryLockOwner(ctx, req.OwnerID.String())
		if err != nil {
			s.log.Warn("debit lock unavailable, proceeding unserialized", zap.Error(err))
		} else if !locked {
			// Contention, not a wallet state: the balance was never read.
			return nil, creditdomain.ErrOwnerBusy
		} else {
			defer func() {
				if err := s.limiter.ReleaseOwner(ctx, req.OwnerID.String(), token); err != nil {
					s.log.Warn("debit lock release failed", zap.Error(err))
				}
			}()
		}
	}

	balance, err := s.LoadBalance(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}

	now := balance.AsOf
	if !balance.CanAfford(req.Amount, now) {
		return nil, creditdomain.ErrInsufficientCredits
	}
	usedUnlimited := balance.HasUnlimited(now)

	// Debit intent is recorded before the action: the system never runs a
	// billable call without a persisted intent to charge.
	allocations, err := s.writeCharge(ctx, req, usedUnlimited, now)
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordDebit(ctx, req.Feature, usedUnlimited)

	result, actionErr := action(ctx)
	if actionErr == nil {
		return result, nil
	}

	if refundErr := s.writeRefund(ctx, req, usedUnlimited, allocations); refundErr != nil {
		s.obsMetrics.RecordRefundFailure(ctx, req.Feature)
		s.log.Error("refund failed after action failure, ledger needs reconciliation",
			zap.String("owner_id", req.OwnerID.String()),
			zap.Int64("amount", req.Amount),
			zap.NamedError("action_error", actionErr),
			zap.Error(refundErr),
		)
		// refundErr and actionErr are carried as text only so the result
		// matches ErrRefundFailed and nothing else.
		return nil, fmt.Errorf("%w: %v (action: %v)", creditdomain.ErrRefundFailed, refundErr, actionErr)
	}

	if !usedUnlimited && req.Amount > 0 {
		s.obsMetrics.RecordRefund(ctx, req.Feature)
	}
	return nil, fmt.Errorf("%w: %w", creditdomain.ErrActionFailed, actionErr)
}

func (s *Service) ListGrants(ctx context.Context, ownerID snowflake.ID) ([]creditdomain.CreditGrant, error) {
	if ownerID == 0 {
		return nil, creditdomain.ErrInvalidOwner
	}
	return s.repo.ListGrants(ctx, ownerID)
}

func (s *Service) ListUsage(ctx context.Context, ownerID, beforeID snowflake.ID, limit int) ([]creditdomain.UsageRecord, error) {
	if ownerID == 0 {
		return nil, creditdomain.ErrInvalidOwner
	}
	return s.repo.ListUsage(ctx, ownerID, beforeID, limit)
}

func (s *Service) GetGrant(ctx context.Context, ownerID, grantID snowflake.ID) (*creditdomain.CreditGrant, error) {
	if ownerID == 0 {
		return nil, creditdomain.ErrInvalidOwner
	}
	return s.repo.GetGrant(ctx, ownerID, grantID)
}

func (s *Service) writeCharge(ctx context.Context, req creditdomain.ReserveRequest, usedUnlimited bool, now time.Time) ([]creditdomain.DebitAllocation, error) {
	charge := s.newRecord(req, now)
	charge.Kind = creditdomain.UsageKindCharge

	if usedUnlimited || req.Amount == 0 {
		charge.Amount = 0
		charge.UnlimitedUsed = usedUnlimited
		if err := s.repo.InsertUsage(ctx, charge); err != nil {
			return nil, err
		}
		return nil, nil
	}

	charge.Amount = req.Amount
	allocations, err := s.repo.DebitGrants(ctx, req.OwnerID, req.Amount, now, charge)
	if err != nil {
		return nil, err
	}
	return allocations, nil
}

func (s *Service) writeRefund(ctx context.Context, req creditdomain.ReserveRequest, usedUnlimited bool, allocations []creditdomain.DebitAllocation) error {
	now := s.clock.Now()
	record := s.newRecord(req, now)

	if usedUnlimited || req.Amount == 0 {
		// Nothing was metered; log the failed attempt for observability.
		record.Kind = creditdomain.UsageKindAttempt
		record.Amount = 0
		record.UnlimitedUsed = usedUnlimited
		if err := s.repo.InsertUsage(ctx, record); err != nil {
			// No balance drifted, so this is not a refund failure.
			s.log.Warn("failed to log unlimited-path attempt", zap.Error(err))
		}
		return nil
	}

	record.Kind = creditdomain.UsageKindReversal
	record.Amount = -req.Amount
	return s.repo.RefundGrants(ctx, allocations, record)
}

func (s *Service) newRecord(req creditdomain.ReserveRequest, now time.Time) *creditdomain.UsageRecord {
	record := &creditdomain.UsageRecord{
		ID:         s.genID.Generate(),
		OwnerID:    req.OwnerID,
		Feature:    strings.TrimSpace(req.Feature),
		OccurredAt: now,
	}
	if model := strings.TrimSpace(req.Model); model != "" {
		record.Model = &model
	}
	return record
}
