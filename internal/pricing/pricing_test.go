package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	holder, err := NewStaticHolder(DefaultTable())
	require.NoError(t, err)
	return NewService(holder)
}

func TestModelCostKnownModels(t *testing.T) {
	svc := newTestService(t)

	require.Equal(t, int64(1), svc.ModelCost("rekaai/reka-flash-3:free"))
	require.Equal(t, int64(3), svc.ModelCost("google/learnlm-1.5-pro:experimental"))
	require.Equal(t, int64(5), svc.ModelCost("nvidia/nemotron-253b:free"))
}

func TestModelCostFallsBackForUnknownModel(t *testing.T) {
	svc := newTestService(t)

	require.Equal(t, int64(1), svc.ModelCost("some/unlisted-model"))
	require.Equal(t, int64(1), svc.ModelCost(""))
}

func TestDefaultModel(t *testing.T) {
	svc := newTestService(t)

	model := svc.DefaultModel()
	require.Equal(t, "rekaai/reka-flash-3:free", model.ID)
	require.True(t, model.IsDefault)
}

func TestPackageByID(t *testing.T) {
	svc := newTestService(t)

	pkg, err := svc.PackageByID("unlimited-30")
	require.NoError(t, err)
	require.True(t, pkg.Unlimited)
	require.Equal(t, 30, pkg.DurationDays)

	_, err = svc.PackageByID("credits-9000")
	require.ErrorIs(t, err, ErrPackageNotFound)
}

func TestValidateTableRejectsBadEntries(t *testing.T) {
	table := DefaultTable()
	table.Models[0].Credits = 0
	_, err := NewStaticHolder(table)
	require.Error(t, err)

	table = DefaultTable()
	table.Packages = append(table.Packages, Package{ID: "zero", PriceCents: 0, Credits: 10, DurationDays: 30})
	_, err = NewStaticHolder(table)
	require.Error(t, err)

	table = DefaultTable()
	table.Models = nil
	_, err = NewStaticHolder(table)
	require.Error(t, err)
}
