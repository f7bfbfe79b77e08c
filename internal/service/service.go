// Package service is the synchronous entry point: create and enqueue
// orders, read them back.
package service

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/queue"
	"main/internal/store"
)

// SubmitRequest carries one swap submission.
type SubmitRequest struct {
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
	AmountIn string `json:"amountIn"`
	// Type defaults to market; anything else is rejected.
	Type string `json:"type,omitempty"`
}

// Dispatcher is the queue dependency.
type Dispatcher interface {
	Enqueue(orderID string) (*queue.Handle, error)
}

// Hooks are optional instrumentation callbacks.
type Hooks struct {
	OrderSubmitted func()
}

// Service validates submissions, persists the initial row and hands
// the order id to the dispatcher.
type Service struct {
	store store.Store
	queue Dispatcher
	hooks Hooks
}

// New builds a service.
func New(st store.Store, q Dispatcher, hooks Hooks) *Service {
	return &Service{store: st, queue: q, hooks: hooks}
}

// Submit validates, creates the pending order and enqueues its job.
// Validation failures never create a row or a job.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := model.ValidateOrderType(req.Type); err != nil {
		return "", err
	}
	order, err := model.NewOrder(req.TokenIn, req.TokenOut, req.AmountIn)
	if err != nil {
		return "", err
	}

	if err := s.store.Create(ctx, order); err != nil {
		return "", errors.Wrap(err, "create order")
	}
	if _, err := s.queue.Enqueue(order.ID); err != nil {
		// The row exists but will never run; surface that loudly.
		return "", errors.Wrap(err, "enqueue order "+order.ID)
	}

	if s.hooks.OrderSubmitted != nil {
		s.hooks.OrderSubmitted()
	}
	logs.Infof("order %s submitted: %s -> %s amount %s", order.ID, order.TokenIn, order.TokenOut, order.AmountIn)
	return order.ID, nil
}

// Get returns the order snapshot for the id.
func (s *Service) Get(ctx context.Context, orderID string) (*model.Order, error) {
	return s.store.FindByID(ctx, orderID)
}

// List returns order snapshots, newest first.
func (s *Service) List(ctx context.Context, filter store.Filter) ([]*model.Order, error) {
	return s.store.FindMany(ctx, filter)
}
