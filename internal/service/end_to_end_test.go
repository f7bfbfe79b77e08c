package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/hub"
	"main/internal/model"
	"main/internal/queue"
	"main/internal/router"
	"main/internal/store"
	"main/internal/worker"
)

// Full pipeline with real queue, worker, router and hub; only the
// simulated source latencies are shrunk.
func TestSubmitRunsFullLifecycle(t *testing.T) {
	mem := store.NewMemory()
	broadcast := hub.New()

	simCfg := router.SimConfig{
		QuoteLatencyMin:   time.Millisecond,
		QuoteLatencyMax:   2 * time.Millisecond,
		ExecuteLatencyMin: time.Millisecond,
		ExecuteLatencyMax: 2 * time.Millisecond,
	}
	rt, err := router.New(
		router.NewSimSource("raydium", simCfg),
		router.NewSimSource("orca", simCfg),
	)
	require.NoError(t, err)

	exec := worker.New(worker.Config{BuildDelay: time.Millisecond}, mem, rt, broadcast)
	q, err := queue.New(queue.Config{Workers: 4, BackoffBase: 10 * time.Millisecond}, exec.Process, queue.Hooks{})
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { _ = q.Close() })

	svc := New(mem, q, Hooks{})

	id, err := svc.Submit(context.Background(), SubmitRequest{
		TokenIn: "SOL", TokenOut: "USDC", AmountIn: "100",
	})
	require.NoError(t, err)

	var final *model.Order
	require.Eventually(t, func() bool {
		order, err := svc.Get(context.Background(), id)
		if err != nil {
			return false
		}
		final = order
		return order.Status.Terminal()
	}, 10*time.Second, 10*time.Millisecond)

	assert.Contains(t, []model.Status{model.StatusConfirmed, model.StatusFailed}, final.Status)
	assert.GreaterOrEqual(t, len(final.History), 2)

	// The sim sources never fail, so the lifecycle should have run clean.
	require.Equal(t, model.StatusConfirmed, final.Status)
	assert.NotEmpty(t, final.TxHash)
	assert.NotEmpty(t, final.DexUsed)
	assert.NotEmpty(t, final.ExecutedPrice)

	want := []model.Status{
		model.StatusPending,
		model.StatusRouting,
		model.StatusBuilding,
		model.StatusSubmitted,
		model.StatusConfirmed,
	}
	require.Len(t, final.History, len(want))
	for i, entry := range final.History {
		assert.Equal(t, want[i], entry.Status)
	}

	job, ok := q.Job(id)
	require.True(t, ok)
	assert.Equal(t, queue.JobStateCompleted, job.State)
}

func TestConcurrentSubmissionsAllReachTerminal(t *testing.T) {
	mem := store.NewMemory()
	simCfg := router.SimConfig{
		QuoteLatencyMin:   time.Millisecond,
		QuoteLatencyMax:   2 * time.Millisecond,
		ExecuteLatencyMin: time.Millisecond,
		ExecuteLatencyMax: 2 * time.Millisecond,
	}
	rt, err := router.New(router.NewSimSource("raydium", simCfg))
	require.NoError(t, err)

	exec := worker.New(worker.Config{BuildDelay: time.Millisecond}, mem, rt, hub.New())
	q, err := queue.New(queue.Config{Workers: 5, RatePerMinute: 10000}, exec.Process, queue.Hooks{})
	require.NoError(t, err)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { _ = q.Close() })

	svc := New(mem, q, Hooks{})

	const n = 20
	ids := make([]string, n)
	for i := range n {
		id, err := svc.Submit(context.Background(), SubmitRequest{
			TokenIn: "SOL", TokenOut: "USDC", AmountIn: "100",
		})
		require.NoError(t, err)
		ids[i] = id
	}

	for _, id := range ids {
		require.Eventually(t, func() bool {
			order, err := svc.Get(context.Background(), id)
			return err == nil && order.Status == model.StatusConfirmed
		}, 15*time.Second, 10*time.Millisecond, "order %s", id)
	}

	// Distinct orders must have distinct transaction ids.
	seen := make(map[string]struct{}, n)
	for _, id := range ids {
		order, err := svc.Get(context.Background(), id)
		require.NoError(t, err)
		_, dup := seen[order.TxHash]
		require.False(t, dup, "duplicate tx hash %s", order.TxHash)
		seen[order.TxHash] = struct{}{}
	}
}
