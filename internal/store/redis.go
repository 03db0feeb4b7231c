package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/fabioitj/gatherin/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// tier for snapshot lookups and the recommendation set. Writes go to the
// primary store and invalidate the cache; reads check Redis first then
// fall back to the primary. Redis failures never fail a read.
type CachedStore struct {
	primary Store
	rdb     redis.UniversalClient
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.UniversalClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetSnapshots(ctx context.Context, tickers []string) (map[string]model.PriceSnapshot, error) {
	result := make(map[string]model.PriceSnapshot, len(tickers))
	if len(tickers) == 0 {
		return result, nil
	}

	keys := make([]string, len(tickers))
	for i, t := range tickers {
		keys[i] = snapshotKey(t)
	}

	var missing []string
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Debug("snapshot cache read failed", "err", err)
		missing = tickers
	} else {
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				missing = append(missing, tickers[i])
				continue
			}
			var snap model.PriceSnapshot
			if msgpack.Unmarshal([]byte(str), &snap) != nil {
				missing = append(missing, tickers[i])
				continue
			}
			result[snap.Ticker] = snap
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	// Cache miss: read the remainder from primary in one batch.
	fresh, err := s.primary.GetSnapshots(ctx, missing)
	if err != nil {
		if len(result) == 0 {
			return nil, err
		}
		// Keep the Redis hits; only the remainder is unknown.
		return result, fmt.Errorf("%w: %d of %d tickers unread: %w", ErrPartial, len(missing), len(tickers), err)
	}

	pipe := s.rdb.Pipeline()
	for ticker, snap := range fresh {
		result[ticker] = snap
		if data, err := msgpack.Marshal(snap); err == nil {
			pipe.Set(ctx, snapshotKey(ticker), data, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Debug("snapshot cache write failed", "err", err)
	}
	return result, nil
}

func (s *CachedStore) ListRecommendations(ctx context.Context, minConfidence float64) ([]model.RecommendationRecord, error) {
	// The whole set is cached once and filtered in-process.
	data, err := s.rdb.Get(ctx, recommendationsKey).Bytes()
	if err == nil {
		var all []model.RecommendationRecord
		if msgpack.Unmarshal(data, &all) == nil {
			return filterConfidence(all, minConfidence), nil
		}
	}

	all, err := s.primary.ListRecommendations(ctx, 0)
	if err != nil {
		return nil, err
	}

	if data, err := msgpack.Marshal(all); err == nil {
		s.rdb.Set(ctx, recommendationsKey, data, s.ttl)
	}
	return filterConfidence(all, minConfidence), nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) ReplaceRecommendations(ctx context.Context, records []model.RecommendationRecord) (int, error) {
	n, err := s.primary.ReplaceRecommendations(ctx, records)
	if err != nil {
		return 0, err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, recommendationsKey)
	return n, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) SearchSnapshots(ctx context.Context, assetType model.AssetType, query string, limit int) ([]model.PriceSnapshot, error) {
	return s.primary.SearchSnapshots(ctx, assetType, query, limit)
}

func (s *CachedStore) SnapshotStats(ctx context.Context, recentSince time.Time) (*model.SnapshotStats, error) {
	return s.primary.SnapshotStats(ctx, recentSince)
}

func (s *CachedStore) GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error) {
	return s.primary.GetPortfolio(ctx, userID)
}

func (s *CachedStore) CreatePortfolio(ctx context.Context, p *model.Portfolio) (*model.Portfolio, error) {
	return s.primary.CreatePortfolio(ctx, p)
}

func (s *CachedStore) AddPosition(ctx context.Context, pos *model.Position) error {
	return s.primary.AddPosition(ctx, pos)
}

func (s *CachedStore) UpdatePosition(ctx context.Context, portfolioID, positionID string, quantity *int64, averageCost *decimal.Decimal) (*model.Position, error) {
	return s.primary.UpdatePosition(ctx, portfolioID, positionID, quantity, averageCost)
}

func (s *CachedStore) DeletePosition(ctx context.Context, portfolioID, positionID string) error {
	return s.primary.DeletePosition(ctx, portfolioID, positionID)
}

// --- Cache helpers ---

const recommendationsKey = "recommendations:all"

func snapshotKey(ticker string) string { return fmt.Sprintf("snapshot:%s", ticker) }

func filterConfidence(records []model.RecommendationRecord, minConfidence float64) []model.RecommendationRecord {
	out := make([]model.RecommendationRecord, 0, len(records))
	for _, r := range records {
		if r.Confidence >= minConfidence {
			out = append(out, r)
		}
	}
	return out
}
