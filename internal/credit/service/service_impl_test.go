package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/learnify/learnify/internal/clock"
	"github.com/learnify/learnify/internal/config"
	creditdomain "github.com/learnify/learnify/internal/credit/domain"
	creditrepo "github.com/learnify/learnify/internal/credit/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&creditdomain.CreditGrant{}, &creditdomain.UsageRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func setupService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()
	db := openTestDB(t)
	node := mustNode(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		Repo:  creditrepo.Provide(db),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	}).(*Service)
	return svc, db, fake, node
}

func grantFixture(t *testing.T, db *gorm.DB, node *snowflake.Node, ownerID snowflake.ID, amount int64, unlimited bool, expiresAt time.Time) creditdomain.CreditGrant {
	t.Helper()
	grant := creditdomain.CreditGrant{
		ID:            node.Generate(),
		OwnerID:       ownerID,
		Amount:        amount,
		InitialAmount: amount,
		IsUnlimited:   unlimited,
		PurchasedAt:   expiresAt.AddDate(0, 0, -30),
		ExpiresAt:     expiresAt,
	}
	if err := db.Create(&grant).Error; err != nil {
		t.Fatalf("create grant: %v", err)
	}
	return grant
}

func countUsage(t *testing.T, db *gorm.DB, ownerID snowflake.ID, kind creditdomain.UsageKind) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&creditdomain.UsageRecord{}).
		Where("owner_id = ? AND kind = ?", ownerID, kind).
		Count(&n).Error; err != nil {
		t.Fatalf("count usage: %v", err)
	}
	return n
}

func TestLoadBalancePartitionsGrants(t *testing.T) {
	svc, db, fake, node := setupService(t)
	owner := node.Generate()
	now := fake.Now()

	grantFixture(t, db, node, owner, 10, false, now.Add(24*time.Hour))
	grantFixture(t, db, node, owner, 5, false, now.Add(48*time.Hour))
	grantFixture(t, db, node, owner, 99, false, now.Add(-time.Hour)) // expired
	unlimited := grantFixture(t, db, node, owner, 0, true, now.Add(72*time.Hour))

	balance, err := svc.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}

	if balance.Metered != 15 {
		t.Fatalf("expected metered 15, got %d", balance.Metered)
	}
	if len(balance.Grants) != 3 {
		t.Fatalf("expected 3 active grants, got %d", len(balance.Grants))
	}
	if balance.UnlimitedUntil == nil || !balance.UnlimitedUntil.Equal(unlimited.ExpiresAt) {
		t.Fatalf("expected unlimited until %v, got %v", unlimited.ExpiresAt, balance.UnlimitedUntil)
	}
	for i := 1; i < len(balance.Grants); i++ {
		if balance.Grants[i].ExpiresAt.Before(balance.Grants[i-1].ExpiresAt) {
			t.Fatalf("grants not ordered by expiry ascending")
		}
	}
}

func TestLoadBalanceIsIdempotent(t *testing.T) {
	svc, db, fake, node := setupService(t)
	owner := node.Generate()
	grantFixture(t, db, node, owner, 10, false, fake.Now().Add(time.Hour))

	first, err := svc.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	second, err := svc.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance again: %v", err)
	}
	if first.Metered != second.Metered || len(first.Grants) != len(second.Grants) {
		t.Fatalf("read-only balance loads diverged: %+v vs %+v", first, second)
	}
}

func TestLoadBalanceExcludesExpiredAfterClockAdvance(t *testing.T) {
	svc, db, fake, node := setupService(t)
	owner := node.Generate()
	grantFixture(t, db, node, owner, 10, false, fake.Now().Add(time.Hour))

	balance, err := svc.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.Metered != 10 {
		t.Fatalf("expected metered 10, got %d", balance.Metered)
	}

	fake.Advance(2 * time.Hour)

	balance, err = svc.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance after expiry: %v", err)
	}
	if balance.Metered != 0 || len(balance.Grants) != 0 {
		t.Fatalf("expired grant still contributes: %+v", balance)
	}
}

func TestAddGrantDefaultsExpiryToThirtyDays(t *testing.T) {
	svc, _, fake, node := setupService(t)
	owner := node.Generate()

	grant, err := svc.AddGrant(context.Background(), creditdomain.AddGrantRequest{
		OwnerID: owner,
		Amount:  50,
	})
	if err != nil {
		t.Fatalf("add grant: %v", err)
	}
	want := fake.Now().AddDate(0, 0, 30)
	if !grant.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, grant.ExpiresAt)
	}
	if grant.Amount != 50 || grant.InitialAmount != 50 {
		t.Fatalf("unexpected amounts: %+v", grant)
	}
}

func TestAddGrantUsesConfiguredDefaultExpiry(t *testing.T) {
	db := openTestDB(t)
	node := mustNode(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		Cfg:   config.Config{GrantExpiryDays: 7},
		Repo:  creditrepo.Provide(db),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	}).(*Service)

	grant, err := svc.AddGrant(context.Background(), creditdomain.AddGrantRequest{
		OwnerID: node.Generate(),
		Amount:  50,
	})
	if err != nil {
		t.Fatalf("add grant: %v", err)
	}
	want := fake.Now().AddDate(0, 0, 7)
	if !grant.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, grant.ExpiresAt)
	}
}

func TestAddGrantUnlimitedStoresZeroAmount(t *testing.T) {
	svc, _, _, node := setupService(t)
	owner := node.Generate()

	grant, err := svc.AddGrant(context.Background(), creditdomain.AddGrantRequest{
		OwnerID:     owner,
		Amount:      999,
		IsUnlimited: true,
	})
	if err != nil {
		t.Fatalf("add grant: %v", err)
	}
	if grant.Amount != 0 || grant.InitialAmount != 0 || !grant.IsUnlimited {
		t.Fatalf("unlimited grant stored wrong: %+v", grant)
	}

	balance, err := svc.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if !balance.HasUnlimited(balance.AsOf) {
		t.Fatalf("expected unlimited window, got %+v", balance)
	}
	if balance.Metered != 0 {
		t.Fatalf("unlimited grant leaked into metered balance: %d", balance.Metered)
	}
}

func TestAddGrantValidation(t *testing.T) {
	svc, _, _, node := setupService(t)

	if _, err := svc.AddGrant(context.Background(), creditdomain.AddGrantRequest{Amount: 10}); !errors.Is(err, creditdomain.ErrInvalidOwner) {
		t.Fatalf("expected ErrInvalidOwner, got %v", err)
	}
	if _, err := svc.AddGrant(context.Background(), creditdomain.AddGrantRequest{OwnerID: node.Generate(), Amount: -1}); !errors.Is(err, creditdomain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := svc.AddGrant(context.Background(), creditdomain.AddGrantRequest{OwnerID: node.Generate(), Amount: 1, ExpiryDays: -5}); !errors.Is(err, creditdomain.ErrInvalidExpiry) {
		t.Fatalf("expected ErrInvalidExpiry, got %v", err)
	}
}

func TestReserveAndExecuteSuccessChargesOnce(t *testing.T) {
	svc, db, fake, node := setupService(t)
	owner := node.Generate()
	grantFixture(t, db, node, owner, 10, false, fake.Now().Add(time.Hour))

	calls := 0
	result, err := svc.ReserveAndExecute(context.Background(), creditdomain.ReserveRequest{
		OwnerID: owner,
		Amount:  3,
		Feature: "chat",
		Model:   "learnlm-1.5-pro",
	}, func(ctx context.Context) (any, error) {
		calls++
		return "answer", nil
	})
	if err != nil {
		t.Fatalf("reserve and execute: %v", err)
	}
	if result != "answer" {
		t.Fatalf("expected action result, got %v", result)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one action call, got %d", calls)
	}

	balance, err := svc.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.Metered != 7 {
		t.Fatalf("expected metered 7 after debit, got %d", balance.Metered)
	}

	if n := countUsage(t, db, owner, creditdomain.UsageKindCharge); n != 1 {
		t.Fatalf("expected 1 charge record, got %d", n)
	}
	if n := countUsage(t, db, owner, creditdomain.UsageKindReversal); n != 0 {
		t.Fatalf("success must not write a reversal, got %d", n)
	}
}

func TestReserveAndExecuteInsufficientHasNoSideEffects(t *testing.T) {
	svc, db, fake, node := setupService(t)
	owner := node.Generate()
	grantFixture(t, db, node, owner, 2, false, fake.Now().Add(time.Hour))

	called := false
	_, err := svc.ReserveAndExecute(context.Background(), creditdomain.ReserveRequest{
		OwnerID: owner,
		Amount:  5,
		Feature: "chat",
	}, func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, creditdomain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if called {
		t.Fatalf("action ran without sufficient credits")
	}

	var n int64
	if err := db.Model(&creditdomain.UsageRecord{}).Where("owner_id = ?", owner).Count(&n).Error; err != nil {
		t.Fatalf("count usage: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no usage records, got %d", n)
	}

	balance, err := svc.LoadBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.Metered != 2 {
		t.Fatalf("balance mutated on rejection: %d", balance.Metered)
	}
}

func TestReserveAndExecuteFailureRefundsToSameGrants(t *testing.T) {
	svc, db, fake, node := setupService(t)
	owner := node.Generate()
	early := grantFixture(t, db, node, owner, 2, false, fake.Now().Add(time.Hour))
	late := grantFixture(t, db, node, owner, 5, false, fake.Now().Add(48*time.Hour))

	actionErr := errors.New("provider timeout")
	_, err := svc.ReserveAndExecute(context.Background(), creditdomain.ReserveRequest{
		OwnerID: owner,
		Amount:  3,
		Feature: "quiz",
	}, func(ctx context.Context) (any, error) {
		return nil, actionErr
	})
	if !errors.Is(err, creditdomain.ErrActionFailed) {
		t.Fatalf("expected ErrActionFailed, got %v", err)
	}
	if !errors.Is(err, actionErr) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}

	// Charge and reversal both remain in the log and net to zero.
	if n := countUsage(t, db, owner, creditdomain.UsageKindCharge); n != 1 {
		t.Fatalf("expected 1 charge record, got %d", n)
	}
	if n := countUsage(t, db, owner, creditdomain.UsageKindReversal); n != 1 {
		t.Fatalf("expected 1 reversal record, got %d", n)
	}
	var sum int64
	if err := db.Model(&creditdomain.UsageRecord{}).
		Where("owner_id = ?", owner).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error; err != nil {
		t.Fatalf("sum usage: %v", err)
	}
	if sum != 0 {
		t.Fatalf("charge and reversal must net to zero, got %d", sum)
	}

	// Credits went back to the grants they came from.
	for _, want := range []creditdomain.CreditGrant{early, late} {
		got, err := svc.GetGrant(context.Background(), owner, want.ID)
		if err != nil {
			t.Fatalf("get grant: %v", err)
		}
		if got.Amount != want.Amount {
			t.Fatalf("grant %s expected %d remaining, got %d", want.ID, want.Amount, got.Amount)
		}
	}
}

func TestReserveAndExecuteDrainsEarliestExpiryFirst(t *testing.T) {
	svc, db, fake, node := setupService(t)
	owner := node.Generate()
	early := grantFixture(t, db, node, owner, 2, false, fake.Now().Add(time.Hour))
	late := grantFixture(t, db, node, owner, 5, false, fake.Now().Add(48*time.Hour))

	_, err := svc.ReserveAndExecute(context.Background(), creditdomain.ReserveRequest{
		OwnerID: owner,
		Amount:  3,
		Feature: "chat",
	}, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("reserve and execute: %v", err)
	}

	gotEarly, err := svc.GetGrant(context.Background(), owner, early.ID)
	if err != nil {
		t.Fatalf("get grant: %v", err)
	}
	gotLate, err := svc.GetGrant(context.Background(), owner, late.ID)
	if err != nil {
		t.Fatalf("get grant: %v", err)
	}
	if gotEarly.Amount != 0 {
		t.Fatalf("earliest grant should be fully drained, has %d", gotEarly.Amount)
	}
	if gotLate.Amount != 4 {
		t.Fatalf("later grant should cover the remainder, has %d", gotLate.Amount)
	}
}

func TestReserveAndExecuteUnlimitedSkipsMeteredDebit(t *testing.T) {
	svc, db, fake, node := setupService(t)
	owner := node.Generate()
	metered := grantFixture(t, db, node, owner, 10, false, fake.Now().Add(time.Hour))
	grantFixture(t, db, node, owner, 0, true, fake.Now().Add(48*time.Hour))

	_, err := svc.ReserveAndExecute(context.Background(), creditdomain.ReserveRequest{
		OwnerID: owner,
		Amount:  5,
		Feature: "chat",
	}, func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("reserve and execute: %v", err)
	}

	got, err := svc.GetGrant(context.Background(), owner, metered.ID)
	if err != nil {
		t.Fatalf("get grant: %v", err)
	}
	if got.Amount != 10 {
		t.Fatalf("metered grant debited under unlimited window: %d", got.Amount)
	}

	var record creditdomain.UsageRecord
	if err := db.Where("owner_id = ?", owner).First(&record).Error; err != nil {
		t.Fatalf("load usage: %v", err)
	}
	if record.Amount != 0 || !record.UnlimitedUsed || record.Kind != creditdomain.UsageKindCharge {
		t.Fatalf("unexpected unlimited charge record: %+v", record)
	}
}

func TestReserveAndExecuteUnlimitedFailureLogsAttempt(t *testing.T) {
	svc, db, fake, node := setupService(t)
	owner := node.Generate()
	grantFixture(t, db, node, owner, 0, true, fake.Now().Add(time.Hour))

	_, err := svc.ReserveAndExecute(context.Background(), creditdomain.ReserveRequest{
		OwnerID: owner,
		Amount:  5,
		Feature: "chat",
	}, func(ctx context.Context) (any, error) {
		return nil, errors.New("upstream 500")
	})
	if !errors.Is(err, creditdomain.ErrActionFailed) {
		t.Fatalf("expected ErrActionFailed, got %v", err)
	}

	if n := countUsage(t, db, owner, creditdomain.UsageKindReversal); n != 0 {
		t.Fatalf("unlimited path must not write reversals, got %d", n)
	}
	if n := countUsage(t, db, owner, creditdomain.UsageKindAttempt); n != 1 {
		t.Fatalf("expected 1 attempt record, got %d", n)
	}
}

func TestReserveAndExecuteZeroAmountAlwaysAffordable(t *testing.T) {
	svc, db, _, node := setupService(t)
	owner := node.Generate()

	result, err := svc.ReserveAndExecute(context.Background(), creditdomain.ReserveRequest{
		OwnerID: owner,
		Amount:  0,
		Feature: "notes",
	}, func(ctx context.Context) (any, error) {
		return "free", nil
	})
	if err != nil {
		t.Fatalf("zero-amount reserve: %v", err)
	}
	if result != "free" {
		t.Fatalf("expected action result, got %v", result)
	}
	if n := countUsage(t, db, owner, creditdomain.UsageKindCharge); n != 1 {
		t.Fatalf("expected zero-amount charge record, got %d", n)
	}
}

func TestReserveAndExecuteWritesChargeBeforeAction(t *testing.T) {
	svc, db, fake, node := setupService(t)
	owner := node.Generate()
	grant := grantFixture(t, db, node, owner, 10, false, fake.Now().Add(time.Hour))

	// The action observes the ledger mid-flight: the charge record and
	// the grant decrement must already be committed when it runs.
	_, err := svc.ReserveAndExecute(context.Background(), creditdomain.ReserveRequest{
		OwnerID: owner,
		Amount:  3,
		Feature: "chat",
	}, func(ctx context.Context) (any, error) {
		if n := countUsage(t, db, owner, creditdomain.UsageKindCharge); n != 1 {
			t.Fatalf("charge records during action = %d, want 1", n)
		}
		var remaining creditdomain.CreditGrant
		if err := db.First(&remaining, "id = ?", grant.ID).Error; err != nil {
			t.Fatalf("load grant during action: %v", err)
		}
		if remaining.Amount != 7 {
			t.Fatalf("grant amount during action = %d, want 7", remaining.Amount)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("reserve and execute: %v", err)
	}
}

// busyLimiter reports the owner's debit lock as already held.
type busyLimiter struct{}

func (busyLimiter) Enabled() bool { return true }

func (busyLimiter) TryLockOwner(ctx context.Context, ownerID string) (string, bool, error) {
	return "", false, nil
}

func (busyLimiter) ReleaseOwner(ctx context.Context, ownerID, token string) error {
	return nil
}

func TestReserveAndExecuteLockedOwnerReturnsBusy(t *testing.T) {
	svc, db, fake, node := setupService(t)
	svc.limiter = busyLimiter{}
	owner := node.Generate()
	grantFixture(t, db, node, owner, 10, false, fake.Now().Add(time.Hour))

	called := false
	_, err := svc.ReserveAndExecute(context.Background(), creditdomain.ReserveRequest{
		OwnerID: owner,
		Amount:  3,
		Feature: "chat",
	}, func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, creditdomain.ErrOwnerBusy) {
		t.Fatalf("expected ErrOwnerBusy, got %v", err)
	}
	if errors.Is(err, creditdomain.ErrInsufficientCredits) {
		t.Fatalf("lock contention must not read as an empty wallet")
	}
	if called {
		t.Fatalf("action ran while another reservation held the lock")
	}

	var n int64
	if err := db.Model(&creditdomain.UsageRecord{}).Where("owner_id = ?", owner).Count(&n).Error; err != nil {
		t.Fatalf("count usage: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no usage records, got %d", n)
	}
}

func TestCanAffordIsMonotonic(t *testing.T) {
	now := time.Now().UTC()
	balance := &creditdomain.Balance{Metered: 5, AsOf: now}
	for n := int64(5); n >= 0; n-- {
		if !balance.CanAfford(n, now) {
			t.Fatalf("affordable at 5 but not at %d", n)
		}
	}
	if balance.CanAfford(6, now) {
		t.Fatalf("affordable beyond balance")
	}
	if balance.CanAfford(-1, now) {
		t.Fatalf("negative amount must not be affordable")
	}
}

// failingRepo simulates an unreachable store.
type failingRepo struct {
	creditdomain.Repository
}

func (f *failingRepo) ActiveGrants(ctx context.Context, ownerID snowflake.ID, activeAfter time.Time) ([]creditdomain.CreditGrant, error) {
	return nil, fmt.Errorf("%w: connection refused", creditdomain.ErrStoreUnavailable)
}

func TestReserveAndExecuteStoreUnavailable(t *testing.T) {
	node := mustNode(t)
	svc := NewService(Params{
		Repo:  &failingRepo{},
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Now()),
	}).(*Service)

	called := false
	_, err := svc.ReserveAndExecute(context.Background(), creditdomain.ReserveRequest{
		OwnerID: node.Generate(),
		Amount:  1,
		Feature: "chat",
	}, func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, creditdomain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if errors.Is(err, creditdomain.ErrInsufficientCredits) {
		t.Fatalf("unknown balance must not read as insufficient")
	}
	if called {
		t.Fatalf("action ran with unknown balance")
	}
}

// refundFailingRepo lets the debit through and breaks the refund.
type refundFailingRepo struct {
	creditdomain.Repository
}

func (f *refundFailingRepo) RefundGrants(ctx context.Context, allocations []creditdomain.DebitAllocation, reversal *creditdomain.UsageRecord) error {
	return fmt.Errorf("%w: write timeout", creditdomain.ErrStoreUnavailable)
}

func TestReserveAndExecuteRefundFailureIsDistinct(t *testing.T) {
	db := openTestDB(t)
	node := mustNode(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		Repo:  &refundFailingRepo{Repository: creditrepo.Provide(db)},
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	}).(*Service)

	owner := node.Generate()
	grantFixture(t, db, node, owner, 10, false, fake.Now().Add(time.Hour))

	_, err := svc.ReserveAndExecute(context.Background(), creditdomain.ReserveRequest{
		OwnerID: owner,
		Amount:  3,
		Feature: "chat",
	}, func(ctx context.Context) (any, error) {
		return nil, errors.New("provider down")
	})
	if !errors.Is(err, creditdomain.ErrRefundFailed) {
		t.Fatalf("expected ErrRefundFailed, got %v", err)
	}
	if errors.Is(err, creditdomain.ErrActionFailed) {
		t.Fatalf("refund failure must stay distinct from action failure")
	}
}
