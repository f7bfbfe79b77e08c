// Package router discovers the best quote across liquidity sources and
// executes swaps against the chosen one.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/model"
)

var (
	ErrNoSources       = errors.New("no liquidity sources configured")
	ErrUnknownSource   = errors.New("unknown liquidity source")
	ErrAllQuotesFailed = errors.New("all liquidity sources failed to quote")
)

// Source is one liquidity venue. Implementations must be safe for
// concurrent use; the router fans quote requests out in parallel.
type Source interface {
	Name() string
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (model.Quote, error)
	Execute(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (string, error)
}

// Router holds an ordered source registry. Registration order doubles
// as priority: when two sources quote the same amount out, the earlier
// one wins.
type Router struct {
	sources []Source
	byName  map[string]Source
}

// New builds a router over the given sources. Order matters.
func New(sources ...Source) (*Router, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	byName := make(map[string]Source, len(sources))
	for _, src := range sources {
		if _, dup := byName[src.Name()]; dup {
			return nil, fmt.Errorf("duplicate liquidity source: %s", src.Name())
		}
		byName[src.Name()] = src
	}
	return &Router{sources: sources, byName: byName}, nil
}

// Sources returns the registered source names in priority order.
func (r *Router) Sources() []string {
	names := make([]string, len(r.sources))
	for i, src := range r.sources {
		names[i] = src.Name()
	}
	return names
}

// BestQuote queries every source concurrently and returns the quote
// with the strictly greatest amount out. Total latency tracks the
// slowest source, not the sum. Individual source failures are
// tolerated as long as at least one source answers.
func (r *Router) BestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (model.Quote, error) {
	type result struct {
		quote model.Quote
		err   error
	}

	results := make([]result, len(r.sources))
	var wg sync.WaitGroup
	for i, src := range r.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			quote, err := src.Quote(ctx, tokenIn, tokenOut, amountIn)
			results[i] = result{quote: quote, err: err}
		}(i, src)
	}
	wg.Wait()

	var (
		best  model.Quote
		found bool
		errs  []error
	)
	// Priority order scan: a later source replaces the pick only when
	// strictly better, which makes tie-breaks deterministic.
	for i, res := range results {
		if res.err != nil {
			logs.Warnf("quote from %s failed, err: %+v", r.sources[i].Name(), res.err)
			errs = append(errs, res.err)
			continue
		}
		if !found || res.quote.AmountOut.GreaterThan(best.AmountOut) {
			best = res.quote
			found = true
		}
	}
	if !found {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrAllQuotesFailed, errors.Join(errs...))
	}
	return best, nil
}

// Execute performs the swap against the named source and returns its
// opaque transaction id.
func (r *Router) Execute(ctx context.Context, source, tokenIn, tokenOut string, amountIn decimal.Decimal) (string, error) {
	src, ok := r.byName[source]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return src.Execute(ctx, tokenIn, tokenOut, amountIn)
}
