package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
)

func newTestOrder(t *testing.T) *model.Order {
	t.Helper()
	order, err := model.NewOrder("SOL", "USDC", "100")
	require.NoError(t, err)
	return order
}

func TestCanonicalPath(t *testing.T) {
	order := newTestOrder(t)
	path := []model.Status{
		model.StatusRouting,
		model.StatusBuilding,
		model.StatusSubmitted,
		model.StatusConfirmed,
	}
	for _, to := range path {
		require.NoError(t, Apply(order, to, nil, time.Time{}))
	}

	require.Len(t, order.History, 5)
	want := []model.Status{
		model.StatusPending,
		model.StatusRouting,
		model.StatusBuilding,
		model.StatusSubmitted,
		model.StatusConfirmed,
	}
	for i, entry := range order.History {
		assert.Equal(t, want[i], entry.Status)
		if i > 0 {
			assert.False(t, entry.Timestamp.Before(order.History[i-1].Timestamp),
				"history timestamps must be non-decreasing")
		}
	}
	assert.Equal(t, model.StatusConfirmed, order.Status)
	assert.Equal(t, order.Status, order.History[len(order.History)-1].Status)
}

func TestSkippingAStepIsRejected(t *testing.T) {
	order := newTestOrder(t)
	err := Apply(order, model.StatusBuilding, nil, time.Time{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.StatusPending, order.Status)
	assert.Len(t, order.History, 1)
}

func TestFailedReachableFromAnyNonTerminal(t *testing.T) {
	for _, from := range []model.Status{
		model.StatusPending,
		model.StatusRouting,
		model.StatusBuilding,
		model.StatusSubmitted,
	} {
		assert.True(t, CanTransition(from, model.StatusFailed), "from %s", from)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	for _, from := range []model.Status{model.StatusConfirmed, model.StatusFailed} {
		for _, to := range []model.Status{
			model.StatusPending,
			model.StatusRouting,
			model.StatusBuilding,
			model.StatusSubmitted,
			model.StatusConfirmed,
			model.StatusFailed,
		} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRetryResetReturnsToPending(t *testing.T) {
	order := newTestOrder(t)
	require.NoError(t, Apply(order, model.StatusRouting, nil, time.Time{}))
	require.NoError(t, Apply(order, model.StatusPending, map[string]any{"attempt": 2}, time.Time{}))

	assert.Equal(t, model.StatusPending, order.Status)
	last := order.History[len(order.History)-1]
	assert.Equal(t, model.StatusPending, last.Status)
	assert.Equal(t, 2, last.Metadata["attempt"])
}

func TestApplyCarriesMetadata(t *testing.T) {
	order := newTestOrder(t)
	require.NoError(t, Apply(order, model.StatusRouting, nil, time.Time{}))
	meta := map[string]any{"dexUsed": "orca", "executedPrice": "1.02"}
	require.NoError(t, Apply(order, model.StatusBuilding, meta, time.Time{}))

	last := order.History[len(order.History)-1]
	assert.Equal(t, "orca", last.Metadata["dexUsed"])
	assert.Equal(t, "1.02", last.Metadata["executedPrice"])
}

func TestUpdatedAtStrictlyIncreases(t *testing.T) {
	order := newTestOrder(t)
	prev := order.UpdatedAt
	// Apply with the same wall-clock instant; UpdatedAt must still move.
	require.NoError(t, Apply(order, model.StatusRouting, nil, prev))
	assert.True(t, order.UpdatedAt.After(prev))
}
