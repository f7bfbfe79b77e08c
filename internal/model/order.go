package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptySymbol     = errors.New("token symbol is empty")
	ErrSamePair        = errors.New("tokenIn and tokenOut are identical")
	ErrInvalidAmount   = errors.New("amountIn is not a valid decimal")
	ErrNegativeAmount  = errors.New("amountIn must be >= 0")
	ErrUnsupportedType = errors.New("only market orders are supported")
)

// Status tracks the lifecycle of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Valid reports whether s is one of the six lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRouting, StatusBuilding, StatusSubmitted, StatusConfirmed, StatusFailed:
		return true
	default:
		return false
	}
}

// StatusEntry is one row of an order's append-only audit trail.
type StatusEntry struct {
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Order is the persisted unit of work: one requested swap execution
// plus its full audit trail.
type Order struct {
	ID            string        `json:"id"`
	TokenIn       string        `json:"tokenIn"`
	TokenOut      string        `json:"tokenOut"`
	AmountIn      string        `json:"amountIn"`
	Status        Status        `json:"status"`
	History       []StatusEntry `json:"statusHistory"`
	DexUsed       string        `json:"dexUsed,omitempty"`
	ExecutedPrice string        `json:"executedPrice,omitempty"`
	TxHash        string        `json:"txHash,omitempty"`
	FailureReason string        `json:"failureReason,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// NewOrder validates the swap parameters and builds a pending order
// with a single-entry history.
func NewOrder(tokenIn, tokenOut, amountIn string) (*Order, error) {
	tokenIn = strings.TrimSpace(tokenIn)
	tokenOut = strings.TrimSpace(tokenOut)
	if tokenIn == "" || tokenOut == "" {
		return nil, ErrEmptySymbol
	}
	if strings.EqualFold(tokenIn, tokenOut) {
		return nil, ErrSamePair
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(amountIn))
	if err != nil {
		return nil, ErrInvalidAmount
	}
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}

	now := time.Now().UTC()
	return &Order{
		ID:       uuid.NewString(),
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		AmountIn: amount.String(),
		Status:   StatusPending,
		History: []StatusEntry{{
			Status:    StatusPending,
			Timestamp: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ValidateOrderType rejects anything but market orders. Empty defaults
// to market.
func ValidateOrderType(orderType string) error {
	switch strings.ToLower(strings.TrimSpace(orderType)) {
	case "", "market":
		return nil
	default:
		return ErrUnsupportedType
	}
}

// Amount returns the parsed input amount. The order is assumed to have
// passed NewOrder validation.
func (o *Order) Amount() decimal.Decimal {
	amount, _ := decimal.NewFromString(o.AmountIn)
	return amount
}

// Clone deep-copies the order so snapshots never alias live state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.History = make([]StatusEntry, len(o.History))
	for i, entry := range o.History {
		cp.History[i] = entry
		if entry.Metadata != nil {
			meta := make(map[string]any, len(entry.Metadata))
			for k, v := range entry.Metadata {
				meta[k] = v
			}
			cp.History[i].Metadata = meta
		}
	}
	return &cp
}
