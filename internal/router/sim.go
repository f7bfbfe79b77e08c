package router

import (
	"context"
	"encoding/hex"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"main/internal/model"
)

const (
	defaultQuoteLatencyMin   = 200 * time.Millisecond
	defaultQuoteLatencyMax   = 300 * time.Millisecond
	defaultExecuteLatencyMin = 2 * time.Second
	defaultExecuteLatencyMax = 3 * time.Second
	defaultVarianceMinPct    = 2.0
	defaultVarianceMaxPct    = 5.0
)

// SimConfig controls the simulated source behavior.
type SimConfig struct {
	QuoteLatencyMin   time.Duration
	QuoteLatencyMax   time.Duration
	ExecuteLatencyMin time.Duration
	ExecuteLatencyMax time.Duration
	// Price variance window in percent, applied symmetrically positive
	// or negative around the 1:1 notional price.
	VarianceMinPct float64
	VarianceMaxPct float64
	EstimatedGas   decimal.Decimal
}

func (c SimConfig) withDefaults() SimConfig {
	if c.QuoteLatencyMin <= 0 {
		c.QuoteLatencyMin = defaultQuoteLatencyMin
	}
	if c.QuoteLatencyMax < c.QuoteLatencyMin {
		c.QuoteLatencyMax = c.QuoteLatencyMin + defaultQuoteLatencyMax - defaultQuoteLatencyMin
	}
	if c.ExecuteLatencyMin <= 0 {
		c.ExecuteLatencyMin = defaultExecuteLatencyMin
	}
	if c.ExecuteLatencyMax < c.ExecuteLatencyMin {
		c.ExecuteLatencyMax = c.ExecuteLatencyMin + defaultExecuteLatencyMax - defaultExecuteLatencyMin
	}
	if c.VarianceMinPct <= 0 {
		c.VarianceMinPct = defaultVarianceMinPct
	}
	if c.VarianceMaxPct < c.VarianceMinPct {
		c.VarianceMaxPct = defaultVarianceMaxPct
	}
	return c
}

// SimSource simulates a liquidity venue with configurable latency and
// price variance. Production deployments swap this for a real venue
// client behind the same Source interface.
type SimSource struct {
	name string
	cfg  SimConfig
}

// NewSimSource creates a simulated source with the given name.
func NewSimSource(name string, cfg SimConfig) *SimSource {
	return &SimSource{name: name, cfg: cfg.withDefaults()}
}

func (s *SimSource) Name() string { return s.name }

// Quote sleeps within the configured latency window and prices the
// swap at 1:1 notional shifted by a random variance.
func (s *SimSource) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (model.Quote, error) {
	if err := sleepWindow(ctx, s.cfg.QuoteLatencyMin, s.cfg.QuoteLatencyMax); err != nil {
		return model.Quote{}, err
	}

	pct := s.cfg.VarianceMinPct + rand.Float64()*(s.cfg.VarianceMaxPct-s.cfg.VarianceMinPct)
	if rand.Intn(2) == 0 {
		pct = -pct
	}
	price := decimal.NewFromFloat(1 + pct/100)

	return model.Quote{
		Source:       s.name,
		Price:        price,
		AmountOut:    amountIn.Mul(price),
		EstimatedGas: s.cfg.EstimatedGas,
	}, nil
}

// Execute sleeps within the execution latency window and returns a
// globally unique transaction id.
func (s *SimSource) Execute(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (string, error) {
	if err := sleepWindow(ctx, s.cfg.ExecuteLatencyMin, s.cfg.ExecuteLatencyMax); err != nil {
		return "", err
	}
	return newTxID(), nil
}

// newTxID derives a 0x-prefixed hex id from a fresh uuid, so two calls
// never collide even under concurrent invocation.
func newTxID() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}

func sleepWindow(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int63n(int64(max - min)))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
