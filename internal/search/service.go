// Package search resolves free-text asset queries against the price cache,
// falling back to the upstream quote provider when the cache cannot answer.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/fabioitj/gatherin/internal/metrics"
	"github.com/fabioitj/gatherin/internal/model"
	"github.com/fabioitj/gatherin/internal/store"
)

const (
	SourceLocalCache    = "local_cache"
	SourceBrapiFallback = "brapi_fallback"

	// MinQueryLength is the shortest query applied as a text filter.
	MinQueryLength = 2
)

// ErrCacheEmpty is the cache-side cause recorded when the cache answered
// with no rows and the fallback was attempted for that reason.
var ErrCacheEmpty = errors.New("search: no cached assets matched")

// FallbackError reports a search where the cache and the fallback both
// failed. Both causes are kept.
type FallbackError struct {
	CacheErr    error
	FallbackErr error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("search: cache failed (%v); fallback also failed (%v)", e.CacheErr, e.FallbackErr)
}

func (e *FallbackError) Unwrap() []error {
	return []error{e.CacheErr, e.FallbackErr}
}

// Cache is the read side of the price cache used for search.
type Cache interface {
	SearchSnapshots(ctx context.Context, assetType model.AssetType, query string, limit int) ([]model.PriceSnapshot, error)
}

// Provider is the upstream quote list.
type Provider interface {
	ListQuotes(ctx context.Context, assetType model.AssetType, search string) ([]model.AssetCandidate, error)
}

// Result is the search response. Pagination fields describe a single page.
type Result struct {
	Stocks      []model.AssetCandidate `json:"stocks"`
	TotalCount  int                    `json:"totalCount"`
	HasNextPage bool                   `json:"hasNextPage"`
	CurrentPage int                    `json:"currentPage"`
	TotalPages  int                    `json:"totalPages"`
	Source      string                 `json:"source"`
}

// Service implements asset search.
type Service struct {
	cache    Cache
	provider Provider // nil disables the fallback
}

// NewService creates a search service. provider may be nil.
func NewService(cache Cache, provider Provider) *Service {
	return &Service{cache: cache, provider: provider}
}

// Search returns up to store.SearchLimit candidates of assetType ordered by
// ticker. Queries shorter than MinQueryLength list the type unfiltered.
// The cache is tried first; the provider is consulted only after the cache
// errored or returned nothing.
func (s *Service) Search(ctx context.Context, assetType model.AssetType, query string) (*Result, error) {
	q := strings.TrimSpace(query)
	if len([]rune(q)) < MinQueryLength {
		q = ""
	}

	local, cacheErr := s.searchCache(ctx, assetType, q)
	if cacheErr == nil && len(local) > 0 {
		return s.result(local, SourceLocalCache), nil
	}

	if s.provider == nil {
		if cacheErr != nil {
			metrics.SearchFailures.Inc()
			return nil, cacheErr
		}
		return s.result(local, SourceLocalCache), nil
	}

	cause := cacheErr
	if cause == nil {
		cause = ErrCacheEmpty
	}
	slog.Info("search falling back to provider",
		"type", assetType, "query", q, "cause", cause)

	remote, fallbackErr := s.provider.ListQuotes(ctx, assetType, q)
	if fallbackErr != nil {
		if cacheErr == nil {
			// Empty cache and a failing provider: the empty local answer stands.
			slog.Warn("search fallback failed", "type", assetType, "err", fallbackErr)
			return s.result(local, SourceLocalCache), nil
		}
		metrics.SearchFailures.Inc()
		slog.Error("search failed on cache and fallback",
			"type", assetType, "cache_err", cacheErr, "fallback_err", fallbackErr)
		return nil, &FallbackError{CacheErr: cacheErr, FallbackErr: fallbackErr}
	}

	return s.result(normalizeRemote(remote, assetType), SourceBrapiFallback), nil
}

func (s *Service) searchCache(ctx context.Context, assetType model.AssetType, q string) ([]model.AssetCandidate, error) {
	snaps, err := s.cache.SearchSnapshots(ctx, assetType, q, store.SearchLimit)
	if err != nil {
		return nil, fmt.Errorf("cache search: %w", err)
	}
	out := make([]model.AssetCandidate, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, model.CandidateFromSnapshot(snap))
	}
	return out, nil
}

func (s *Service) result(candidates []model.AssetCandidate, source string) *Result {
	metrics.SearchRequests.WithLabelValues(source).Inc()
	if candidates == nil {
		candidates = []model.AssetCandidate{}
	}
	return &Result{
		Stocks:      candidates,
		TotalCount:  len(candidates),
		HasNextPage: false,
		CurrentPage: 1,
		TotalPages:  1,
		Source:      source,
	}
}

// normalizeRemote applies the cache ordering and limit to provider rows and
// drops entries of the wrong type or duplicated tickers.
func normalizeRemote(remote []model.AssetCandidate, assetType model.AssetType) []model.AssetCandidate {
	seen := make(map[string]struct{}, len(remote))
	out := make([]model.AssetCandidate, 0, len(remote))
	for _, c := range remote {
		if c.Type != assetType {
			continue
		}
		if _, dup := seen[c.Ticker]; dup {
			continue
		}
		seen[c.Ticker] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	if len(out) > store.SearchLimit {
		out = out[:store.SearchLimit]
	}
	return out
}
