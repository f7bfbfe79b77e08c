// Package store persists orders and their audit trails.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"main/internal/model"
)

var (
	ErrNotFound    = errors.New("order not found")
	ErrDuplicateID = errors.New("order id already exists")
)

// Fields is a partial order update. Nil pointers are left untouched;
// a non-nil History replaces the whole audit trail column in one
// write, which keeps a transition and its history entry atomic.
type Fields struct {
	Status        *model.Status
	History       []model.StatusEntry
	DexUsed       *string
	ExecutedPrice *string
	TxHash        *string
	FailureReason *string
	UpdatedAt     *time.Time
}

// FieldsFromOrder captures everything the worker mutates during a
// transition into one partial update.
func FieldsFromOrder(o *model.Order) Fields {
	status := o.Status
	updated := o.UpdatedAt
	f := Fields{
		Status:    &status,
		History:   o.History,
		UpdatedAt: &updated,
	}
	if o.DexUsed != "" {
		v := o.DexUsed
		f.DexUsed = &v
	}
	if o.ExecutedPrice != "" {
		v := o.ExecutedPrice
		f.ExecutedPrice = &v
	}
	if o.TxHash != "" {
		v := o.TxHash
		f.TxHash = &v
	}
	if o.FailureReason != "" {
		v := o.FailureReason
		f.FailureReason = &v
	}
	return f
}

// Filter narrows FindMany results.
type Filter struct {
	Status *model.Status
	Limit  int
}

// Store is the durable order repository. Per-row updates are
// last-write-wins; Update returns the row as persisted.
type Store interface {
	Create(ctx context.Context, order *model.Order) error
	FindByID(ctx context.Context, id string) (*model.Order, error)
	Update(ctx context.Context, id string, fields Fields) (*model.Order, error)
	FindMany(ctx context.Context, filter Filter) ([]*model.Order, error)
}

// Memory is an in-process Store used by tests and memory-driver
// deployments. All reads and writes deep-copy, so callers never alias
// stored state.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]*model.Order
	seq    map[string]int
	next   int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders: make(map[string]*model.Order),
		seq:    make(map[string]int),
	}
}

func (m *Memory) Create(_ context.Context, order *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[order.ID]; exists {
		return ErrDuplicateID
	}
	m.orders[order.ID] = order.Clone()
	m.next++
	m.seq[order.ID] = m.next
	return nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return order.Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, fields Fields) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	applyFields(order, fields)
	return order.Clone(), nil
}

func (m *Memory) FindMany(_ context.Context, filter Filter) ([]*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.Order, 0, len(m.orders))
	for _, order := range m.orders {
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		out = append(out, order.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func applyFields(order *model.Order, fields Fields) {
	if fields.Status != nil {
		order.Status = *fields.Status
	}
	if fields.History != nil {
		order.History = append([]model.StatusEntry(nil), fields.History...)
	}
	if fields.DexUsed != nil {
		order.DexUsed = *fields.DexUsed
	}
	if fields.ExecutedPrice != nil {
		order.ExecutedPrice = *fields.ExecutedPrice
	}
	if fields.TxHash != nil {
		order.TxHash = *fields.TxHash
	}
	if fields.FailureReason != nil {
		order.FailureReason = *fields.FailureReason
	}
	if fields.UpdatedAt != nil {
		order.UpdatedAt = *fields.UpdatedAt
	} else {
		order.UpdatedAt = time.Now().UTC()
	}
}
