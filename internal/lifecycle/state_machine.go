// Package lifecycle holds the pure order state transition rules.
//
// The canonical path is pending → routing → building → submitted →
// confirmed. Any non-terminal state may move to failed, and any
// non-terminal state may be reset to pending when the dispatcher
// re-activates a failed attempt. confirmed and failed are terminal.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"main/internal/model"
)

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrUnknownStatus     = errors.New("unknown order status")
)

// next maps each state to its single forward successor.
var next = map[model.Status]model.Status{
	model.StatusPending:   model.StatusRouting,
	model.StatusRouting:   model.StatusBuilding,
	model.StatusBuilding:  model.StatusSubmitted,
	model.StatusSubmitted: model.StatusConfirmed,
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to model.Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case model.StatusFailed:
		return true
	case model.StatusPending:
		// Retry reset: the dispatcher restarts the lifecycle from the top.
		return true
	default:
		return next[from] == to
	}
}

// Apply moves the order to the target status and appends the matching
// history entry. The status change and its history entry always land
// together; callers persist the mutated order as one row update.
func Apply(order *model.Order, to model.Status, metadata map[string]any, now time.Time) error {
	if !order.Status.Valid() || !to.Valid() {
		return fmt.Errorf("%w: %q -> %q", ErrUnknownStatus, order.Status, to)
	}
	if !CanTransition(order.Status, to) {
		return fmt.Errorf("%w: %q -> %q (order %s)", ErrInvalidTransition, order.Status, to, order.ID)
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}
	if last := len(order.History) - 1; last >= 0 && now.Before(order.History[last].Timestamp) {
		now = order.History[last].Timestamp
	}
	if !now.After(order.UpdatedAt) {
		now = order.UpdatedAt.Add(time.Nanosecond)
	}

	order.Status = to
	order.History = append(order.History, model.StatusEntry{
		Status:    to,
		Timestamp: now,
		Metadata:  metadata,
	})
	order.UpdatedAt = now
	return nil
}
