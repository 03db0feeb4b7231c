package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fabioitj/gatherin/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu              sync.RWMutex
	snapshots       map[string]model.PriceSnapshot
	portfolios      map[string]*model.Portfolio // userID → portfolio
	recommendations []model.RecommendationRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots:  make(map[string]model.PriceSnapshot),
		portfolios: make(map[string]*model.Portfolio),
	}
}

// PutSnapshot upserts a snapshot. Stands in for the ingestion job.
func (s *MemoryStore) PutSnapshot(snap model.PriceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap.Ticker = strings.ToUpper(snap.Ticker)
	s.snapshots[snap.Ticker] = snap
}

// --- Snapshots ---

func (s *MemoryStore) GetSnapshots(_ context.Context, tickers []string) (map[string]model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]model.PriceSnapshot, len(tickers))
	for _, t := range tickers {
		snap, ok := s.snapshots[strings.ToUpper(t)]
		if ok && snap.IsActive {
			result[snap.Ticker] = snap
		}
	}
	return result, nil
}

func (s *MemoryStore) SearchSnapshots(_ context.Context, assetType model.AssetType, query string, limit int) ([]model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var result []model.PriceSnapshot
	for _, snap := range s.snapshots {
		if !snap.IsActive || snap.Type != assetType {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(snap.Ticker), q) &&
			!strings.Contains(strings.ToLower(snap.Name), q) {
			continue
		}
		result = append(result, snap)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Ticker < result[j].Ticker })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) SnapshotStats(_ context.Context, recentSince time.Time) (*model.SnapshotStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.SnapshotStats{TopSectors: []model.SectorCount{}}
	sectors := make(map[string]int64)

	for _, snap := range s.snapshots {
		if !snap.IsActive {
			continue
		}
		stats.TotalActive++
		switch snap.Type {
		case model.AssetStock:
			stats.Stocks++
		case model.AssetFII:
			stats.FIIs++
		}
		if stats.LastUpdate == nil || snap.LastUpdated.After(*stats.LastUpdate) {
			ts := snap.LastUpdated
			stats.LastUpdate = &ts
		}
		if !snap.LastUpdated.Before(recentSince) {
			stats.RecentlyUpdated++
		}
		if snap.Sector != "" {
			sectors[snap.Sector]++
		}
	}

	for sector, n := range sectors {
		stats.TopSectors = append(stats.TopSectors, model.SectorCount{Sector: sector, Count: n})
	}
	sort.Slice(stats.TopSectors, func(i, j int) bool {
		if stats.TopSectors[i].Count != stats.TopSectors[j].Count {
			return stats.TopSectors[i].Count > stats.TopSectors[j].Count
		}
		return stats.TopSectors[i].Sector < stats.TopSectors[j].Sector
	})
	if len(stats.TopSectors) > 10 {
		stats.TopSectors = stats.TopSectors[:10]
	}
	return stats, nil
}

// --- Portfolios ---

func (s *MemoryStore) GetPortfolio(_ context.Context, userID string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[userID]
	if !ok {
		return nil, fmt.Errorf("portfolio for user %s: %w", userID, ErrNotFound)
	}
	return copyPortfolio(p), nil
}

func (s *MemoryStore) CreatePortfolio(_ context.Context, p *model.Portfolio) (*model.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.portfolios[p.UserID]; ok {
		return copyPortfolio(existing), nil
	}

	// Store a copy to avoid external mutation.
	stored := copyPortfolio(p)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	s.portfolios[p.UserID] = stored
	return copyPortfolio(stored), nil
}

func (s *MemoryStore) AddPosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.portfolioByID(pos.PortfolioID)
	if p == nil {
		return fmt.Errorf("portfolio %s: %w", pos.PortfolioID, ErrNotFound)
	}
	for _, existing := range p.Positions {
		if strings.EqualFold(existing.Ticker, pos.Ticker) {
			return fmt.Errorf("%s: %w", pos.Ticker, ErrDuplicateTicker)
		}
	}

	p.Positions = append(p.Positions, *pos)
	sort.Slice(p.Positions, func(i, j int) bool { return p.Positions[i].Ticker < p.Positions[j].Ticker })
	return nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, portfolioID, positionID string, quantity *int64, averageCost *decimal.Decimal) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.portfolioByID(portfolioID)
	if p == nil {
		return nil, fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
	}
	for i := range p.Positions {
		pos := &p.Positions[i]
		if pos.ID != positionID {
			continue
		}
		if quantity != nil {
			pos.Quantity = *quantity
		}
		if averageCost != nil {
			pos.AverageCost = *averageCost
		}
		pos.UpdatedAt = time.Now().UTC()
		updated := *pos
		return &updated, nil
	}
	return nil, fmt.Errorf("position %s: %w", positionID, ErrNotFound)
}

func (s *MemoryStore) DeletePosition(_ context.Context, portfolioID, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.portfolioByID(portfolioID)
	if p == nil {
		return fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
	}
	for i, pos := range p.Positions {
		if pos.ID == positionID {
			p.Positions = append(p.Positions[:i], p.Positions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("position %s: %w", positionID, ErrNotFound)
}

// portfolioByID must be called with the lock held.
func (s *MemoryStore) portfolioByID(id string) *model.Portfolio {
	for _, p := range s.portfolios {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func copyPortfolio(p *model.Portfolio) *model.Portfolio {
	c := *p
	c.Positions = append([]model.Position{}, p.Positions...)
	return &c
}

// --- Recommendations ---

func (s *MemoryStore) ListRecommendations(_ context.Context, minConfidence float64) ([]model.RecommendationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.RecommendationRecord{}
	for _, r := range s.recommendations {
		if r.Confidence >= minConfidence {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *MemoryStore) ReplaceRecommendations(_ context.Context, records []model.RecommendationRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recommendations = append([]model.RecommendationRecord{}, records...)
	return len(records), nil
}
