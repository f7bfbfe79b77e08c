package model

import "github.com/shopspring/decimal"

// Quote is an ephemeral price offer from a single liquidity source.
// Quotes are compared per routing attempt and never persisted.
type Quote struct {
	Source       string
	Price        decimal.Decimal
	AmountOut    decimal.Decimal
	EstimatedGas decimal.Decimal
}
