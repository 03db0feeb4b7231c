// Package pricing resolves tickers to current prices from the price cache,
// with an optional upstream fallback when the cache is unavailable.
package pricing

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fabioitj/gatherin/internal/metrics"
	"github.com/fabioitj/gatherin/internal/model"
	"github.com/fabioitj/gatherin/internal/ticker"
)

// Source tags where a Resolution's prices came from.
type Source string

const (
	SourceCache    Source = "local_cache"
	SourceFallback Source = "brapi_fallback"
	SourceNone     Source = "none"
)

// PriceLookup is the batched read side of the price cache.
type PriceLookup interface {
	GetSnapshots(ctx context.Context, tickers []string) (map[string]model.PriceSnapshot, error)
}

// QuoteProvider is the upstream used when the cache read fails.
type QuoteProvider interface {
	Quotes(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error)
}

// Resolution is the outcome of one Resolve call. Tickers without a price
// are absent from Prices and listed in Missing.
type Resolution struct {
	Prices    map[string]decimal.Decimal
	Snapshots map[string]model.PriceSnapshot
	Missing   []string
	Source    Source
	// Degraded is set when the cache read failed and prices may be absent
	// for reasons other than the ticker being unknown.
	Degraded bool
}

// Price returns the price for t, if resolved.
func (r *Resolution) Price(t string) (decimal.Decimal, bool) {
	p, ok := r.Prices[ticker.Normalize(t)]
	return p, ok
}

// Service implements price resolution. It is stateless and safe for
// concurrent use.
type Service struct {
	lookup     PriceLookup
	provider   QuoteProvider // nil disables the fallback
	backoff    time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

// Option configures the service.
type Option func(*Service)

// WithFallback enables the upstream fallback after the cache read has
// failed twice. Per-ticker misses never go upstream.
func WithFallback(p QuoteProvider) Option {
	return func(s *Service) { s.provider = p }
}

// WithRetryBackoff sets the pause before the single cache retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) { s.backoff = d }
}

// WithStaleAfter sets the horizon past which served snapshots are logged as stale.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) { s.staleAfter = d }
}

// NewService creates a price resolution service over lookup.
func NewService(lookup PriceLookup, opts ...Option) *Service {
	s := &Service{
		lookup:     lookup,
		backoff:    50 * time.Millisecond,
		staleAfter: 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve maps tickers to their current prices. Input is normalized and
// deduplicated, and the cache is read once for the whole set. A cache error
// is retried once; if it persists the result is partial, never an error.
// Snapshots that were read before a failure are kept. Cached prices are
// returned regardless of staleness.
func (s *Service) Resolve(ctx context.Context, tickers []string) *Resolution {
	set := ticker.NormalizeSet(tickers)
	res := &Resolution{
		Prices:    make(map[string]decimal.Decimal, len(set)),
		Snapshots: make(map[string]model.PriceSnapshot, len(set)),
		Missing:   []string{},
		Source:    SourceCache,
	}
	if len(set) == 0 {
		return res
	}

	snaps, err := s.readCache(ctx, set)
	if err != nil {
		res.Degraded = true
		slog.Warn("price cache unavailable, serving partial prices",
			"tickers", len(set), "read", len(snaps), "err", err)
		if len(snaps) == 0 {
			res.Source = SourceNone
		}
	}

	now := s.now()
	var stale int
	var absent []string
	for _, t := range set {
		snap, ok := snaps[t]
		if !ok {
			absent = append(absent, t)
			continue
		}
		res.Prices[t] = snap.CurrentPrice
		res.Snapshots[t] = snap
		metrics.PriceLookups.WithLabelValues("hit").Inc()
		if snap.IsStale(now, s.staleAfter) {
			stale++
		}
	}
	if stale > 0 {
		slog.Debug("serving stale cached prices", "stale", stale, "tickers", len(set))
	}

	if err == nil {
		metrics.PriceLookups.WithLabelValues("miss").Add(float64(len(absent)))
		res.Missing = append(res.Missing, absent...)
		return res
	}

	// Per-ticker misses never go upstream; only tickers the failed read
	// could not answer do.
	metrics.PriceLookups.WithLabelValues("error").Add(float64(len(absent)))
	if len(absent) > 0 && s.provider != nil && ctx.Err() == nil {
		s.resolveUpstream(ctx, absent, res)
	} else {
		res.Missing = append(res.Missing, absent...)
	}
	return res
}

// readCache performs the batched lookup, retrying once after backoff. On
// failure it returns the largest partial result seen alongside the error.
func (s *Service) readCache(ctx context.Context, set []string) (map[string]model.PriceSnapshot, error) {
	snaps, err := s.lookup.GetSnapshots(ctx, set)
	if err == nil {
		return snaps, nil
	}

	metrics.PriceCacheRetries.Inc()
	slog.Info("price cache read failed, retrying", "err", err, "read", len(snaps))

	if s.backoff > 0 {
		t := time.NewTimer(s.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return snaps, ctx.Err()
		case <-t.C:
		}
	}

	retry, err := s.lookup.GetSnapshots(ctx, set)
	if err == nil {
		return retry, nil
	}
	if len(retry) < len(snaps) {
		retry = snaps
	}
	return retry, err
}

// resolveUpstream fills res for tickers in one batched provider call. A
// provider failure leaves those prices absent.
func (s *Service) resolveUpstream(ctx context.Context, tickers []string, res *Resolution) {
	quotes, err := s.provider.Quotes(ctx, tickers)
	if err != nil {
		slog.Warn("price fallback failed", "tickers", len(tickers), "err", err)
		res.Missing = append(res.Missing, tickers...)
		return
	}

	if len(res.Prices) == 0 {
		res.Source = SourceFallback
	}
	for _, t := range tickers {
		p, ok := quotes[t]
		if !ok {
			res.Missing = append(res.Missing, t)
			continue
		}
		res.Prices[t] = p
		metrics.PriceLookups.WithLabelValues("fallback").Inc()
	}
}
