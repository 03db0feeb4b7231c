package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabioitj/gatherin/internal/model"
	"github.com/fabioitj/gatherin/internal/store"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// fakeLookup serves fixed snapshots and fails the first failN calls.
type fakeLookup struct {
	mu     sync.Mutex
	snaps  map[string]model.PriceSnapshot
	failN  int
	calls  int
	inputs [][]string
}

func (f *fakeLookup) GetSnapshots(_ context.Context, tickers []string) (map[string]model.PriceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.inputs = append(f.inputs, append([]string(nil), tickers...))
	if f.calls <= f.failN {
		return nil, errors.New("connection refused")
	}
	out := make(map[string]model.PriceSnapshot)
	for _, t := range tickers {
		if s, ok := f.snaps[t]; ok {
			out[t] = s
		}
	}
	return out, nil
}

type fakeProvider struct {
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

func (f *fakeProvider) Quotes(_ context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]decimal.Decimal)
	for _, t := range tickers {
		if p, ok := f.prices[t]; ok {
			out[t] = p
		}
	}
	return out, nil
}

func snapshots() map[string]model.PriceSnapshot {
	now := time.Now()
	return map[string]model.PriceSnapshot{
		"PETR4": {Ticker: "PETR4", CurrentPrice: d(32.50), LastUpdated: now, IsActive: true},
		"VALE3": {Ticker: "VALE3", CurrentPrice: d(61.02), LastUpdated: now.Add(-72 * time.Hour), IsActive: true},
	}
}

func TestResolve_BatchesNormalizedSet(t *testing.T) {
	lookup := &fakeLookup{snaps: snapshots()}
	svc := NewService(lookup)

	res := svc.Resolve(context.Background(), []string{"vale3", " PETR4", "petr4", "ITUB4"})

	require.Equal(t, 1, lookup.calls, "one batched lookup")
	assert.Equal(t, []string{"ITUB4", "PETR4", "VALE3"}, lookup.inputs[0])
	assert.True(t, res.Prices["PETR4"].Equal(d(32.50)))
	assert.Equal(t, []string{"ITUB4"}, res.Missing)
	assert.Equal(t, SourceCache, res.Source)
	assert.False(t, res.Degraded)
}

func TestResolve_StalePriceStillServed(t *testing.T) {
	svc := NewService(&fakeLookup{snaps: snapshots()})

	res := svc.Resolve(context.Background(), []string{"VALE3"})

	p, ok := res.Price("vale3")
	require.True(t, ok)
	assert.True(t, p.Equal(d(61.02)))
}

func TestResolve_EmptyInput(t *testing.T) {
	lookup := &fakeLookup{snaps: snapshots()}
	res := NewService(lookup).Resolve(context.Background(), nil)

	assert.Zero(t, lookup.calls)
	assert.Empty(t, res.Prices)
	assert.Empty(t, res.Missing)
}

func TestResolve_RetriesOnceThenSucceeds(t *testing.T) {
	lookup := &fakeLookup{snaps: snapshots(), failN: 1}
	svc := NewService(lookup, WithRetryBackoff(time.Millisecond))

	res := svc.Resolve(context.Background(), []string{"PETR4"})

	assert.Equal(t, 2, lookup.calls)
	assert.False(t, res.Degraded)
	assert.Contains(t, res.Prices, "PETR4")
}

func TestResolve_PersistentFailureIsPartial(t *testing.T) {
	lookup := &fakeLookup{snaps: snapshots(), failN: 10}
	svc := NewService(lookup, WithRetryBackoff(0))

	res := svc.Resolve(context.Background(), []string{"PETR4", "VALE3"})

	assert.Equal(t, 2, lookup.calls, "at most one retry")
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Prices)
	assert.Equal(t, []string{"PETR4", "VALE3"}, res.Missing)
}

func TestResolve_FallbackOnlyAfterCacheFailure(t *testing.T) {
	provider := &fakeProvider{prices: map[string]decimal.Decimal{"ITUB4": d(25)}}
	svc := NewService(&fakeLookup{snaps: snapshots()}, WithFallback(provider))

	res := svc.Resolve(context.Background(), []string{"PETR4", "ITUB4"})

	assert.Zero(t, provider.calls, "cache misses never go upstream")
	assert.Equal(t, []string{"ITUB4"}, res.Missing)
}

func TestResolve_FallbackAfterCacheError(t *testing.T) {
	provider := &fakeProvider{prices: map[string]decimal.Decimal{"PETR4": d(33)}}
	svc := NewService(&fakeLookup{failN: 10}, WithFallback(provider), WithRetryBackoff(0))

	res := svc.Resolve(context.Background(), []string{"PETR4", "VALE3"})

	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, SourceFallback, res.Source)
	assert.True(t, res.Degraded)
	assert.True(t, res.Prices["PETR4"].Equal(d(33)))
	assert.Equal(t, []string{"VALE3"}, res.Missing)
}

func TestResolve_FallbackFailureStillPartial(t *testing.T) {
	provider := &fakeProvider{err: errors.New("upstream 503")}
	svc := NewService(&fakeLookup{failN: 10}, WithFallback(provider), WithRetryBackoff(0))

	res := svc.Resolve(context.Background(), []string{"PETR4"})

	assert.Equal(t, SourceNone, res.Source)
	assert.Empty(t, res.Prices)
	assert.Equal(t, []string{"PETR4"}, res.Missing)
}

func TestResolve_CanceledDuringBackoff(t *testing.T) {
	lookup := &fakeLookup{failN: 10}
	svc := NewService(lookup, WithRetryBackoff(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := svc.Resolve(ctx, []string{"PETR4"})

	assert.Equal(t, 1, lookup.calls)
	assert.True(t, res.Degraded)
}

// partialLookup answers the tickers it holds and fails for the rest, the way
// the Redis tier does when PostgreSQL is down.
type partialLookup struct {
	held  map[string]model.PriceSnapshot
	calls int
}

func (p *partialLookup) GetSnapshots(_ context.Context, tickers []string) (map[string]model.PriceSnapshot, error) {
	p.calls++
	out := make(map[string]model.PriceSnapshot)
	for _, t := range tickers {
		if s, ok := p.held[t]; ok {
			out[t] = s
		}
	}
	return out, fmt.Errorf("%w: postgres down", store.ErrPartial)
}

func TestResolve_PartialReadKeepsCachedPrices(t *testing.T) {
	lookup := &partialLookup{held: map[string]model.PriceSnapshot{"PETR4": snapshots()["PETR4"]}}
	svc := NewService(lookup, WithRetryBackoff(0))

	res := svc.Resolve(context.Background(), []string{"PETR4", "VALE3"})

	assert.Equal(t, 2, lookup.calls, "still retried once")
	assert.True(t, res.Degraded)
	assert.Equal(t, SourceCache, res.Source)
	require.Contains(t, res.Prices, "PETR4")
	assert.True(t, res.Prices["PETR4"].Equal(d(32.50)))
	assert.Equal(t, []string{"VALE3"}, res.Missing)
}

func TestResolve_PartialReadFallsBackForUnreadOnly(t *testing.T) {
	lookup := &partialLookup{held: map[string]model.PriceSnapshot{"PETR4": snapshots()["PETR4"]}}
	provider := &fakeProvider{prices: map[string]decimal.Decimal{"PETR4": d(99), "VALE3": d(60)}}
	svc := NewService(lookup, WithFallback(provider), WithRetryBackoff(0))

	res := svc.Resolve(context.Background(), []string{"PETR4", "VALE3"})

	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, SourceCache, res.Source)
	assert.True(t, res.Prices["PETR4"].Equal(d(32.50)), "cached price is not replaced")
	assert.True(t, res.Prices["VALE3"].Equal(d(60)))
	assert.Empty(t, res.Missing)
}
