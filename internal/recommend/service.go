// Package recommend serves precomputed "holders of X also hold Y"
// associations, globally or scoped to a portfolio's holdings.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/fabioitj/gatherin/internal/metrics"
	"github.com/fabioitj/gatherin/internal/model"
	"github.com/fabioitj/gatherin/internal/ticker"
)

const (
	DefaultLimit             = 10
	DefaultPersonalizedLimit = 20
	DefaultMinConfidence     = 0.1
	MaxLimit                 = 100
)

// ErrInvalidRecord is returned by Ingest for a malformed record.
var ErrInvalidRecord = errors.New("recommend: invalid record")

// Store is the recommendation read model plus its replace-all write.
type Store interface {
	ListRecommendations(ctx context.Context, minConfidence float64) ([]model.RecommendationRecord, error)
	ReplaceRecommendations(ctx context.Context, records []model.RecommendationRecord) (int, error)
}

// List is a ranked, rendered recommendation list.
type List struct {
	Recommendations []model.Recommendation `json:"recommendations"`
	Total           int                    `json:"total"`
	// Degraded is set when the store could not be read and the list is
	// empty for that reason.
	Degraded bool `json:"degraded,omitempty"`
}

// AssetCount is one entry of the most-recommended breakdown.
type AssetCount struct {
	Asset string `json:"asset"`
	Count int    `json:"count"`
}

// Stats summarizes the stored recommendation set.
type Stats struct {
	TotalRecommendations int                    `json:"totalRecommendations"`
	TopRecommendations   []model.Recommendation `json:"topRecommendations"`
	AverageSimilarity    float64                `json:"averageSimilarity"`
	AverageConfidence    float64                `json:"averageConfidence"`
	MostRecommended      []AssetCount           `json:"mostRecommendedAssets"`
}

// Service implements recommendation retrieval. It keeps no state of its own.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a recommendation service.
func NewService(st Store) *Service {
	return &Service{store: st, now: time.Now}
}

// ClampLimit bounds limit to [1, MaxLimit].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Top returns the strongest recommendations across all base assets.
func (s *Service) Top(ctx context.Context, limit int, minConfidence float64) *List {
	metrics.RecommendationRequests.WithLabelValues("global").Inc()
	return s.query(ctx, limit, minConfidence, nil)
}

// ForAsset returns recommendations whose base asset is base.
func (s *Service) ForAsset(ctx context.Context, base string, limit int, minConfidence float64) *List {
	metrics.RecommendationRequests.WithLabelValues("asset").Inc()
	base = ticker.Normalize(base)
	return s.query(ctx, limit, minConfidence, func(r model.RecommendationRecord) bool {
		return r.BaseAsset == base
	})
}

// ForPortfolio returns recommendations based on any held ticker, never
// recommending a ticker that is already held. An empty holding set yields an
// empty list.
func (s *Service) ForPortfolio(ctx context.Context, held []string, limit int, minConfidence float64) *List {
	metrics.RecommendationRequests.WithLabelValues("personalized").Inc()
	set := ticker.Set(held)
	if len(set) == 0 {
		return &List{Recommendations: []model.Recommendation{}}
	}
	return s.query(ctx, limit, minConfidence, func(r model.RecommendationRecord) bool {
		_, baseHeld := set[r.BaseAsset]
		_, recHeld := set[r.RecommendedAsset]
		return baseHeld && !recHeld
	})
}

// query filters, ranks by strength (stable on storage order) and only then
// truncates.
func (s *Service) query(ctx context.Context, limit int, minConfidence float64, keep func(model.RecommendationRecord) bool) *List {
	out := &List{Recommendations: []model.Recommendation{}}

	records, err := s.store.ListRecommendations(ctx, minConfidence)
	if err != nil {
		slog.Warn("recommendation store unavailable", "err", err)
		out.Degraded = true
		return out
	}

	eligible := make([]model.RecommendationRecord, 0, len(records))
	for _, r := range records {
		if r.Confidence < minConfidence {
			continue
		}
		if keep != nil && !keep(r) {
			continue
		}
		eligible = append(eligible, r)
	}

	Rank(eligible)
	if limit = ClampLimit(limit); len(eligible) > limit {
		eligible = eligible[:limit]
	}

	for _, r := range eligible {
		out.Recommendations = append(out.Recommendations, Render(r))
	}
	out.Total = len(out.Recommendations)
	return out
}

// Rank sorts by recommendation strength, descending. Ties keep their
// relative order.
func Rank(records []model.RecommendationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RecommendationStrength > records[j].RecommendationStrength
	})
}

// Render attaches the human-readable message, built from the stored
// percentage on every call.
func Render(r model.RecommendationRecord) model.Recommendation {
	return model.Recommendation{
		RecommendationRecord: r,
		Message: fmt.Sprintf("%.1f%% of users who invest in %s also invest in %s",
			r.PercentageAlsoInvest, r.BaseAsset, r.RecommendedAsset),
	}
}

// Stats summarizes every stored record regardless of confidence.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	records, err := s.store.ListRecommendations(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}

	out := &Stats{
		TotalRecommendations: len(records),
		TopRecommendations:   []model.Recommendation{},
		MostRecommended:      []AssetCount{},
	}
	if len(records) == 0 {
		return out, nil
	}

	similarity := make([]float64, len(records))
	confidence := make([]float64, len(records))
	counts := make(map[string]int)
	for i, r := range records {
		similarity[i] = r.SimilarityScore
		confidence[i] = r.Confidence
		counts[r.RecommendedAsset]++
	}
	out.AverageSimilarity = stat.Mean(similarity, nil)
	out.AverageConfidence = stat.Mean(confidence, nil)

	ranked := append([]model.RecommendationRecord(nil), records...)
	Rank(ranked)
	for i := 0; i < len(ranked) && i < 5; i++ {
		out.TopRecommendations = append(out.TopRecommendations, Render(ranked[i]))
	}

	for asset, n := range counts {
		out.MostRecommended = append(out.MostRecommended, AssetCount{Asset: asset, Count: n})
	}
	sort.Slice(out.MostRecommended, func(i, j int) bool {
		a, b := out.MostRecommended[i], out.MostRecommended[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Asset < b.Asset
	})
	if len(out.MostRecommended) > 10 {
		out.MostRecommended = out.MostRecommended[:10]
	}
	return out, nil
}

// Ingest validates records and replaces the stored set with them. The
// percentage is derived from the counts whenever usersWithBase is positive.
// Nothing is written if any record is invalid.
func (s *Service) Ingest(ctx context.Context, records []model.RecommendationRecord) (int, error) {
	now := s.now().UTC()
	seen := make(map[[2]string]struct{}, len(records))
	clean := make([]model.RecommendationRecord, 0, len(records))

	for i, r := range records {
		r.BaseAsset = ticker.Normalize(r.BaseAsset)
		r.RecommendedAsset = ticker.Normalize(r.RecommendedAsset)
		if err := validate(r); err != nil {
			return 0, fmt.Errorf("%w: record %d: %v", ErrInvalidRecord, i, err)
		}
		pair := [2]string{r.BaseAsset, r.RecommendedAsset}
		if _, dup := seen[pair]; dup {
			return 0, fmt.Errorf("%w: record %d: duplicate pair %s -> %s", ErrInvalidRecord, i, pair[0], pair[1])
		}
		seen[pair] = struct{}{}

		if r.UsersWithBase > 0 {
			r.PercentageAlsoInvest = float64(r.UsersWithBoth) * 100 / float64(r.UsersWithBase)
		}
		r.ID = uuid.New().String()
		r.CreatedAt = now
		r.UpdatedAt = now
		clean = append(clean, r)
	}

	n, err := s.store.ReplaceRecommendations(ctx, clean)
	if err != nil {
		return 0, fmt.Errorf("replace recommendations: %w", err)
	}
	slog.Info("recommendations replaced", "count", n)
	return n, nil
}

func validate(r model.RecommendationRecord) error {
	switch {
	case r.BaseAsset == "" || r.RecommendedAsset == "":
		return errors.New("base_asset and recommended_asset are required")
	case r.BaseAsset == r.RecommendedAsset:
		return errors.New("recommended_asset must differ from base_asset")
	case r.Confidence < 0 || r.Confidence > 1:
		return errors.New("confidence must be within [0,1]")
	case r.SimilarityScore < 0 || r.SimilarityScore > 1:
		return errors.New("similarity_score must be within [0,1]")
	case r.Support < 0:
		return errors.New("support must be non-negative")
	case r.UsersWithBoth < 0 || r.UsersWithBase < 0:
		return errors.New("user counts must be non-negative")
	case r.UsersWithBoth > r.UsersWithBase:
		return errors.New("users_with_both cannot exceed users_with_base")
	}
	return nil
}
