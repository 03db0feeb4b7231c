// Package model defines the core domain types shared across gatherin.
// All monetary values use shopspring/decimal, never float64.
// Association statistics (confidence, support, similarity) are plain floats:
// they are ratios produced by the mining job, not amounts of money.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetType is the kind of asset a position or snapshot refers to.
type AssetType string

const (
	AssetStock AssetType = "STOCK"
	AssetFII   AssetType = "FII" // fundo de investimento imobiliário
)

// ErrInvalidAssetType is returned for anything other than STOCK or FII.
var ErrInvalidAssetType = errors.New("model: unknown asset type")

// ParseAssetType accepts STOCK or FII in any case.
func ParseAssetType(s string) (AssetType, error) {
	switch AssetType(strings.ToUpper(strings.TrimSpace(s))) {
	case AssetStock:
		return AssetStock, nil
	case AssetFII:
		return AssetFII, nil
	}
	return "", fmt.Errorf("%w: %q (expected STOCK or FII)", ErrInvalidAssetType, s)
}

// Position is one holding inside a Portfolio. Quantity and AverageCost are
// user-declared, not derived from trades.
type Position struct {
	ID          string          `json:"id" db:"id"`
	PortfolioID string          `json:"walletId" db:"portfolio_id"`
	Ticker      string          `json:"ticker" db:"ticker"`
	Type        AssetType       `json:"type" db:"type"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	AverageCost decimal.Decimal `json:"averagePrice" db:"average_cost"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// Portfolio is the single wallet owned by a user. Positions are kept
// ordered by ticker and no two positions share a ticker.
type Portfolio struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"userId" db:"user_id"`
	Positions []Position `json:"assets"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// Tickers returns the tickers held, in position order.
func (p *Portfolio) Tickers() []string {
	tickers := make([]string, 0, len(p.Positions))
	for _, pos := range p.Positions {
		tickers = append(tickers, pos.Ticker)
	}
	return tickers
}

// PriceSnapshot is the cached market data for one ticker. Rows are written
// by the external ingestion job; this service only reads them.
type PriceSnapshot struct {
	Ticker           string          `json:"ticker" db:"ticker" msgpack:"ticker"`
	Name             string          `json:"name" db:"name" msgpack:"name"`
	Type             AssetType       `json:"type" db:"type" msgpack:"type"`
	CurrentPrice     decimal.Decimal `json:"currentPrice" db:"current_price" msgpack:"current_price"`
	DayChangePercent decimal.Decimal `json:"change" db:"change" msgpack:"change"`
	Volume           int64           `json:"volume" db:"volume" msgpack:"volume"`
	MarketCap        int64           `json:"marketCap" db:"market_cap" msgpack:"market_cap"`
	Sector           string          `json:"sector" db:"sector" msgpack:"sector"`
	LogoURL          string          `json:"logoUrl" db:"logo_url" msgpack:"logo_url"`
	LastUpdated      time.Time       `json:"lastUpdated" db:"last_updated" msgpack:"last_updated"`
	IsActive         bool            `json:"isActive" db:"is_active" msgpack:"is_active"`
}

// Age returns how old the snapshot is relative to now.
func (s PriceSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.LastUpdated)
}

// IsStale reports whether the snapshot is older than horizon. Stale
// snapshots are still served; staleness only feeds health reporting.
func (s PriceSnapshot) IsStale(now time.Time, horizon time.Duration) bool {
	if s.LastUpdated.IsZero() {
		return true
	}
	return s.Age(now) > horizon
}

// RecommendationRecord is a precomputed directed association
// "holders of BaseAsset also hold RecommendedAsset".
type RecommendationRecord struct {
	ID                     string    `json:"id" db:"id" msgpack:"id"`
	BaseAsset              string    `json:"baseAsset" db:"base_asset" msgpack:"base_asset"`
	RecommendedAsset       string    `json:"recommendedAsset" db:"recommended_asset" msgpack:"recommended_asset"`
	SimilarityScore        float64   `json:"similarityScore" db:"similarity_score" msgpack:"similarity_score"`
	Support                float64   `json:"support" db:"support" msgpack:"support"`
	Confidence             float64   `json:"confidence" db:"confidence" msgpack:"confidence"`
	UsersWithBoth          int64     `json:"usersWithBoth" db:"users_with_both" msgpack:"users_with_both"`
	UsersWithBase          int64     `json:"usersWithBase" db:"users_with_base" msgpack:"users_with_base"`
	PercentageAlsoInvest   float64   `json:"percentageAlsoInvest" db:"percentage_also_invest" msgpack:"percentage_also_invest"`
	RecommendationStrength float64   `json:"recommendationStrength" db:"recommendation_strength" msgpack:"recommendation_strength"`
	CreatedAt              time.Time `json:"createdAt" db:"created_at" msgpack:"created_at"`
	UpdatedAt              time.Time `json:"updatedAt" db:"updated_at" msgpack:"updated_at"`
}

// Recommendation is a RecommendationRecord plus its rendered message.
type Recommendation struct {
	RecommendationRecord
	Message string `json:"message"`
}

// EnrichedPosition is a Position joined with its current price. When no
// price is available CurrentPrice is null and CurrentValue is zero.
type EnrichedPosition struct {
	Position
	CurrentPrice       decimal.NullDecimal `json:"currentPrice"`
	CurrentValue       decimal.Decimal     `json:"currentValue"`
	TotalInvested      decimal.Decimal     `json:"totalInvested"`
	GainLoss           decimal.Decimal     `json:"gainLoss"`
	GainLossPercentage decimal.Decimal     `json:"gainLossPercentage"`
}

// EnrichedPortfolio is the valuation of a whole Portfolio.
type EnrichedPortfolio struct {
	ID                      string             `json:"id"`
	UserID                  string             `json:"userId"`
	Positions               []EnrichedPosition `json:"assets"`
	TotalValue              decimal.Decimal    `json:"totalValue"`
	TotalInvested           decimal.Decimal    `json:"totalInvested"`
	TotalGainLoss           decimal.Decimal    `json:"totalGainLoss"`
	TotalGainLossPercentage decimal.Decimal    `json:"totalGainLossPercentage"`
	PricesComplete          bool               `json:"pricesComplete"`
}

// AssetCandidate is one search hit, whichever source produced it.
type AssetCandidate struct {
	Ticker    string          `json:"ticker"`
	Name      string          `json:"name"`
	Type      AssetType       `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Change    decimal.Decimal `json:"change"`
	Volume    int64           `json:"volume"`
	MarketCap int64           `json:"marketCap"`
	Logo      string          `json:"logo"`
	Sector    string          `json:"sector"`
}

// CandidateFromSnapshot reshapes a cached snapshot into a search hit.
func CandidateFromSnapshot(s PriceSnapshot) AssetCandidate {
	return AssetCandidate{
		Ticker:    s.Ticker,
		Name:      s.Name,
		Type:      s.Type,
		Price:     s.CurrentPrice,
		Change:    s.DayChangePercent,
		Volume:    s.Volume,
		MarketCap: s.MarketCap,
		Logo:      s.LogoURL,
		Sector:    s.Sector,
	}
}

// SectorCount is one row of the top-sectors breakdown.
type SectorCount struct {
	Sector string `json:"sector"`
	Count  int64  `json:"count"`
}

// SnapshotStats summarizes the price cache for health reporting.
type SnapshotStats struct {
	TotalActive     int64         `json:"totalAssets"`
	Stocks          int64         `json:"stocksCount"`
	FIIs            int64         `json:"fiisCount"`
	LastUpdate      *time.Time    `json:"lastUpdate"`
	TopSectors      []SectorCount `json:"topSectors"`
	RecentlyUpdated int64         `json:"recentlyUpdated"`
}
