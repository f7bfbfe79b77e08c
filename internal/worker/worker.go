// Package worker drives one order through its full lifecycle per
// activated job: routing, build, submit, confirm.
package worker

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/hub"
	"main/internal/lifecycle"
	"main/internal/model"
	"main/internal/store"
)

const defaultBuildDelay = 500 * time.Millisecond

// Quoter is the routing dependency: quote discovery plus execution.
type Quoter interface {
	BestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (model.Quote, error)
	Execute(ctx context.Context, source, tokenIn, tokenOut string, amountIn decimal.Decimal) (string, error)
}

// Publisher receives a persisted order snapshot after every transition.
type Publisher interface {
	Publish(order *model.Order)
}

var _ Publisher = (*hub.Hub)(nil)

// Config tunes the executor.
type Config struct {
	// BuildDelay stands in for real transaction construction.
	BuildDelay time.Duration
	// StepTimeout bounds each external call when > 0. Zero keeps the
	// original unbounded-block behavior.
	StepTimeout time.Duration
	// OnTransition is an optional metrics callback.
	OnTransition func(status model.Status)
}

// Executor is the dispatcher's handler. It owns all order mutations
// after creation; the dispatcher's dedup guarantee makes it the single
// writer per order id.
type Executor struct {
	cfg    Config
	store  store.Store
	quoter Quoter
	pub    Publisher
}

// New builds an executor.
func New(cfg Config, st store.Store, quoter Quoter, pub Publisher) *Executor {
	if cfg.BuildDelay <= 0 {
		cfg.BuildDelay = defaultBuildDelay
	}
	return &Executor{cfg: cfg, store: st, quoter: quoter, pub: pub}
}

// Process runs the lifecycle for one activated job. A returned error
// tells the dispatcher to apply its retry policy; the order is marked
// terminally failed only on the final attempt.
func (e *Executor) Process(ctx context.Context, orderID string, attempt, maxAttempts int) error {
	order, err := e.store.FindByID(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "load order")
	}

	if order.Status.Terminal() {
		// A previous attempt already reached a terminal state; there is
		// nothing left to drive.
		return nil
	}
	if order.Status != model.StatusPending {
		// Retry path: restart the lifecycle from the top, on the record.
		meta := map[string]any{"attempt": attempt}
		if reason := lastErrorOf(order); reason != "" {
			meta["previousError"] = reason
		}
		if order, err = e.transition(ctx, order, model.StatusPending, meta); err != nil {
			return err
		}
	}

	if err := e.execute(ctx, order, attempt, maxAttempts); err != nil {
		return err
	}
	return nil
}

func (e *Executor) execute(ctx context.Context, order *model.Order, attempt, maxAttempts int) error {
	var err error
	if order, err = e.transition(ctx, order, model.StatusRouting, nil); err != nil {
		return e.fail(ctx, order, attempt, maxAttempts, err)
	}

	quote, err := e.bestQuote(ctx, order)
	if err != nil {
		return e.fail(ctx, order, attempt, maxAttempts, errors.Wrap(err, "quote discovery"))
	}

	order.DexUsed = quote.Source
	order.ExecutedPrice = quote.Price.String()
	if order, err = e.transition(ctx, order, model.StatusBuilding, map[string]any{
		"dexUsed":       quote.Source,
		"executedPrice": quote.Price.String(),
		"amountOut":     quote.AmountOut.String(),
	}); err != nil {
		return e.fail(ctx, order, attempt, maxAttempts, err)
	}

	// Transaction construction placeholder.
	if err := e.buildStep(ctx); err != nil {
		return e.fail(ctx, order, attempt, maxAttempts, errors.Wrap(err, "build transaction"))
	}
	if order, err = e.transition(ctx, order, model.StatusSubmitted, nil); err != nil {
		return e.fail(ctx, order, attempt, maxAttempts, err)
	}

	txHash, err := e.executeSwap(ctx, order, quote.Source)
	if err != nil {
		return e.fail(ctx, order, attempt, maxAttempts, errors.Wrap(err, "execute swap"))
	}

	order.TxHash = txHash
	if order, err = e.transition(ctx, order, model.StatusConfirmed, map[string]any{
		"txHash": txHash,
	}); err != nil {
		return e.fail(ctx, order, attempt, maxAttempts, err)
	}

	logs.Infof("order %s confirmed via %s, tx %s", order.ID, order.DexUsed, txHash)
	return nil
}

// transition applies the status change, persists it as one row update
// and broadcasts the persisted snapshot.
func (e *Executor) transition(ctx context.Context, order *model.Order, to model.Status, metadata map[string]any) (*model.Order, error) {
	if err := lifecycle.Apply(order, to, metadata, time.Now().UTC()); err != nil {
		return order, err
	}
	updated, err := e.store.Update(ctx, order.ID, store.FieldsFromOrder(order))
	if err != nil {
		return order, errors.Wrap(err, "persist transition to "+string(to))
	}
	if e.cfg.OnTransition != nil {
		e.cfg.OnTransition(to)
	}
	e.pub.Publish(updated)
	return updated, nil
}

// fail marks the order terminally failed on the last attempt, then
// hands the error back so the dispatcher's retry policy applies.
func (e *Executor) fail(ctx context.Context, order *model.Order, attempt, maxAttempts int, cause error) error {
	if attempt < maxAttempts {
		logs.Warnf("order %s attempt %d/%d failed, err: %+v", order.ID, attempt, maxAttempts, cause)
		return cause
	}
	if order.Status.Terminal() {
		return cause
	}

	order.FailureReason = cause.Error()
	failed, err := e.transition(ctx, order, model.StatusFailed, map[string]any{
		"failureReason": cause.Error(),
		"attempt":       attempt,
	})
	if err != nil {
		logs.Errorf("order %s could not be marked failed, err: %+v", order.ID, err)
		return cause
	}
	logs.Errorf("order %s failed terminally: %s", failed.ID, failed.FailureReason)
	return cause
}

func (e *Executor) bestQuote(ctx context.Context, order *model.Order) (model.Quote, error) {
	ctx, cancel := e.stepContext(ctx)
	defer cancel()
	return e.quoter.BestQuote(ctx, order.TokenIn, order.TokenOut, order.Amount())
}

func (e *Executor) executeSwap(ctx context.Context, order *model.Order, source string) (string, error) {
	ctx, cancel := e.stepContext(ctx)
	defer cancel()
	return e.quoter.Execute(ctx, source, order.TokenIn, order.TokenOut, order.Amount())
}

func (e *Executor) buildStep(ctx context.Context) error {
	timer := time.NewTimer(e.cfg.BuildDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Executor) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.StepTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.StepTimeout)
	}
	return ctx, func() {}
}

func lastErrorOf(order *model.Order) string {
	for i := len(order.History) - 1; i >= 0; i-- {
		if reason, ok := order.History[i].Metadata["failureReason"].(string); ok {
			return reason
		}
	}
	return ""
}
