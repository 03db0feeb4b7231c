// Package store defines the persistence interfaces for gatherin.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache tier), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fabioitj/gatherin/internal/model"
)

var (
	// ErrNotFound is returned when a portfolio or position does not exist
	// (or does not belong to the caller).
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateTicker is returned when a portfolio already holds the ticker.
	ErrDuplicateTicker = errors.New("store: ticker already in portfolio")

	// ErrPartial is returned together with a non-empty result when only part
	// of a batch could be read. The result holds what was read.
	ErrPartial = errors.New("store: partial result")
)

// SearchLimit caps the number of snapshots returned by SearchSnapshots.
const SearchLimit = 50

// SnapshotStore is the read side of the price cache. Rows are written by
// the external ingestion job.
type SnapshotStore interface {
	// GetSnapshots returns the active snapshots for the given tickers in a
	// single batch lookup. Tickers without a snapshot are simply absent.
	// An error wrapping ErrPartial comes with the snapshots that were read.
	GetSnapshots(ctx context.Context, tickers []string) (map[string]model.PriceSnapshot, error)

	// SearchSnapshots returns active snapshots of the given type whose
	// ticker or name contains query (case-insensitive), ordered by ticker.
	// An empty query matches everything of that type.
	SearchSnapshots(ctx context.Context, assetType model.AssetType, query string, limit int) ([]model.PriceSnapshot, error)

	// SnapshotStats summarizes the cache; recentSince bounds RecentlyUpdated.
	SnapshotStats(ctx context.Context, recentSince time.Time) (*model.SnapshotStats, error)
}

// PortfolioStore persists portfolios and their positions.
type PortfolioStore interface {
	// GetPortfolio returns the user's portfolio with positions ordered by
	// ticker, or ErrNotFound.
	GetPortfolio(ctx context.Context, userID string) (*model.Portfolio, error)

	// CreatePortfolio persists an empty portfolio. Creating a second
	// portfolio for the same user returns the existing one.
	CreatePortfolio(ctx context.Context, p *model.Portfolio) (*model.Portfolio, error)

	// AddPosition inserts a position; ErrDuplicateTicker if the ticker is held.
	AddPosition(ctx context.Context, pos *model.Position) error

	// UpdatePosition changes quantity and/or average cost of a position in
	// the given portfolio. Nil arguments leave the field untouched.
	UpdatePosition(ctx context.Context, portfolioID, positionID string, quantity *int64, averageCost *decimal.Decimal) (*model.Position, error)

	// DeletePosition removes a position from the given portfolio.
	DeletePosition(ctx context.Context, portfolioID, positionID string) error
}

// RecommendationStore holds the precomputed association rows.
type RecommendationStore interface {
	// ListRecommendations returns rows with confidence >= minConfidence in
	// storage order. A store mid-replacement returns whatever it holds.
	ListRecommendations(ctx context.Context, minConfidence float64) ([]model.RecommendationRecord, error)

	// ReplaceRecommendations deletes every row and inserts records.
	ReplaceRecommendations(ctx context.Context, records []model.RecommendationRecord) (int, error)
}

// Store is the full persistence interface.
type Store interface {
	SnapshotStore
	PortfolioStore
	RecommendationStore
}
