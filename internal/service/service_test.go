package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/queue"
	"main/internal/store"
)

type fakeDispatcher struct {
	enqueued []string
	err      error
}

func (f *fakeDispatcher) Enqueue(orderID string) (*queue.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.enqueued = append(f.enqueued, orderID)
	return &queue.Handle{ID: orderID}, nil
}

func TestSubmitCreatesAndEnqueues(t *testing.T) {
	mem := store.NewMemory()
	disp := &fakeDispatcher{}
	svc := New(mem, disp, Hooks{})

	id, err := svc.Submit(context.Background(), SubmitRequest{
		TokenIn: "SOL", TokenOut: "USDC", AmountIn: "100",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	order, err := mem.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, order.Status)
	require.Len(t, order.History, 1)
	assert.Equal(t, model.StatusPending, order.History[0].Status)
	assert.Equal(t, []string{id}, disp.enqueued)
}

func TestSubmitRejectsInvalidBeforeEnqueue(t *testing.T) {
	mem := store.NewMemory()
	disp := &fakeDispatcher{}
	svc := New(mem, disp, Hooks{})

	tests := []SubmitRequest{
		{TokenIn: "", TokenOut: "USDC", AmountIn: "1"},
		{TokenIn: "SOL", TokenOut: "USDC", AmountIn: "not-a-number"},
		{TokenIn: "SOL", TokenOut: "USDC", AmountIn: "-5"},
		{TokenIn: "SOL", TokenOut: "USDC", AmountIn: "1", Type: "limit"},
	}
	for _, req := range tests {
		_, err := svc.Submit(context.Background(), req)
		assert.Error(t, err)
	}

	orders, err := mem.FindMany(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, orders, "validation failures must not create rows")
	assert.Empty(t, disp.enqueued, "validation failures must not create jobs")
}

func TestSubmitEnqueueFailureSurfaces(t *testing.T) {
	mem := store.NewMemory()
	disp := &fakeDispatcher{err: errors.New("queue closed")}
	svc := New(mem, disp, Hooks{})

	_, err := svc.Submit(context.Background(), SubmitRequest{
		TokenIn: "SOL", TokenOut: "USDC", AmountIn: "1",
	})
	require.Error(t, err)
}

func TestGetAndList(t *testing.T) {
	mem := store.NewMemory()
	svc := New(mem, &fakeDispatcher{}, Hooks{})

	var ids []string
	for range 3 {
		id, err := svc.Submit(context.Background(), SubmitRequest{
			TokenIn: "SOL", TokenOut: "USDC", AmountIn: "1",
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	got, err := svc.Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[0], got.ID)

	_, err = svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := svc.List(context.Background(), store.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID, "newest first")
}
