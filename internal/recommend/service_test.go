package recommend

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabioitj/gatherin/internal/model"
	"github.com/fabioitj/gatherin/internal/store"
)

func rec(base, recommended string, confidence, strength float64) model.RecommendationRecord {
	return model.RecommendationRecord{
		ID:                     base + "-" + recommended,
		BaseAsset:              base,
		RecommendedAsset:       recommended,
		SimilarityScore:        confidence / 2,
		Confidence:             confidence,
		UsersWithBoth:          40,
		UsersWithBase:          100,
		PercentageAlsoInvest:   40,
		RecommendationStrength: strength,
	}
}

func seeded(t *testing.T, records ...model.RecommendationRecord) *Service {
	t.Helper()
	ms := store.NewMemoryStore()
	_, err := ms.ReplaceRecommendations(context.Background(), records)
	require.NoError(t, err)
	return NewService(ms)
}

func pairs(l *List) []string {
	out := make([]string, 0, len(l.Recommendations))
	for _, r := range l.Recommendations {
		out = append(out, r.BaseAsset+">"+r.RecommendedAsset)
	}
	return out
}

func fixture() []model.RecommendationRecord {
	return []model.RecommendationRecord{
		rec("PETR4", "VALE3", 0.8, 0.9),
		rec("PETR4", "ITUB4", 0.6, 0.7),
		rec("VALE3", "PETR4", 0.9, 0.95),
		rec("VALE3", "BBAS3", 0.3, 0.7),
		rec("ITUB4", "BBDC4", 0.05, 0.99),
		rec("HGLG11", "XPML11", 0.5, 0.4),
	}
}

func TestRender_Message(t *testing.T) {
	r := Render(rec("PETR4", "VALE3", 0.8, 0.9))
	assert.Equal(t, "40.0% of users who invest in PETR4 also invest in VALE3", r.Message)
}

func TestRender_UsesStoredPercentage(t *testing.T) {
	r := rec("PETR4", "VALE3", 0.8, 0.9)
	r.PercentageAlsoInvest = 33.333
	assert.Equal(t, "33.3% of users who invest in PETR4 also invest in VALE3", Render(r).Message)
}

func TestTop_RanksByStrengthAfterFiltering(t *testing.T) {
	svc := seeded(t, fixture()...)

	got := svc.Top(context.Background(), 3, 0.1)

	// ITUB4>BBDC4 has the highest strength but fails the confidence filter.
	assert.Equal(t, []string{"VALE3>PETR4", "PETR4>VALE3", "PETR4>ITUB4"}, pairs(got))
	assert.Equal(t, 3, got.Total)
}

func TestTop_TiesKeepStorageOrder(t *testing.T) {
	svc := seeded(t, fixture()...)

	got := svc.Top(context.Background(), 10, 0.1)

	// PETR4>ITUB4 and VALE3>BBAS3 share strength 0.7.
	assert.Equal(t, []string{"VALE3>PETR4", "PETR4>VALE3", "PETR4>ITUB4", "VALE3>BBAS3", "HGLG11>XPML11"}, pairs(got))
}

func TestTop_MonotonicInMinConfidence(t *testing.T) {
	svc := seeded(t, fixture()...)

	prev := -1
	for _, c := range []float64{0, 0.05, 0.1, 0.3, 0.5, 0.6, 0.8, 0.9, 0.95, 1} {
		n := svc.Top(context.Background(), MaxLimit, c).Total
		if prev >= 0 {
			assert.LessOrEqual(t, n, prev, "minConfidence=%v", c)
		}
		prev = n
	}
}

func TestTop_EmptyStore(t *testing.T) {
	got := seeded(t).Top(context.Background(), 10, 0.1)
	assert.Empty(t, got.Recommendations)
	assert.NotNil(t, got.Recommendations)
	assert.Zero(t, got.Total)
}

func TestForAsset(t *testing.T) {
	svc := seeded(t, fixture()...)

	got := svc.ForAsset(context.Background(), "petr4", 10, 0.1)
	assert.Equal(t, []string{"PETR4>VALE3", "PETR4>ITUB4"}, pairs(got))
}

func TestForPortfolio_ExcludesHeld(t *testing.T) {
	svc := seeded(t, fixture()...)

	got := svc.ForPortfolio(context.Background(), []string{"PETR4", "vale3"}, 20, 0.1)

	// VALE3>PETR4 and PETR4>VALE3 both point at held tickers.
	assert.Equal(t, []string{"PETR4>ITUB4", "VALE3>BBAS3"}, pairs(got))
	for _, r := range got.Recommendations {
		assert.NotContains(t, []string{"PETR4", "VALE3"}, r.RecommendedAsset)
	}
}

func TestForPortfolio_HeldRecommendedNeverSurfaces(t *testing.T) {
	svc := seeded(t, fixture()...)

	got := svc.ForPortfolio(context.Background(), []string{"PETR4"}, 20, 0.5)

	for _, r := range got.Recommendations {
		assert.NotEqual(t, "PETR4", r.RecommendedAsset)
	}
	assert.Equal(t, []string{"PETR4>VALE3", "PETR4>ITUB4"}, pairs(got))
}

func TestForPortfolio_EmptyHoldings(t *testing.T) {
	svc := seeded(t, fixture()...)

	got := svc.ForPortfolio(context.Background(), nil, 20, 0)
	assert.Empty(t, got.Recommendations)
	assert.Zero(t, got.Total)
}

func TestForPortfolio_TruncatesAfterFiltering(t *testing.T) {
	svc := seeded(t, fixture()...)

	got := svc.ForPortfolio(context.Background(), []string{"PETR4"}, 1, 0.1)

	// The strongest row overall (VALE3>PETR4) is filtered out first.
	assert.Equal(t, []string{"PETR4>VALE3"}, pairs(got))
	assert.Equal(t, 1, got.Total)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, ClampLimit(0))
	assert.Equal(t, 1, ClampLimit(-5))
	assert.Equal(t, 42, ClampLimit(42))
	assert.Equal(t, MaxLimit, ClampLimit(1000))
}

type brokenStore struct{}

func (brokenStore) ListRecommendations(context.Context, float64) ([]model.RecommendationRecord, error) {
	return nil, errors.New("timeout")
}

func (brokenStore) ReplaceRecommendations(context.Context, []model.RecommendationRecord) (int, error) {
	return 0, errors.New("timeout")
}

func TestQuery_StoreErrorDegrades(t *testing.T) {
	got := NewService(brokenStore{}).Top(context.Background(), 10, 0.1)
	assert.True(t, got.Degraded)
	assert.Empty(t, got.Recommendations)
}

func TestStats(t *testing.T) {
	records := fixture()
	records = append(records, rec("BBAS3", "PETR4", 0.4, 0.1))
	svc := seeded(t, records...)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7, stats.TotalRecommendations)
	require.Len(t, stats.TopRecommendations, 5)
	assert.Equal(t, "ITUB4", stats.TopRecommendations[0].BaseAsset)
	assert.NotEmpty(t, stats.TopRecommendations[0].Message)
	assert.InDelta(t, (0.8+0.6+0.9+0.3+0.05+0.5+0.4)/7, stats.AverageConfidence, 1e-9)
	assert.InDelta(t, stats.AverageConfidence/2, stats.AverageSimilarity, 1e-9)
	assert.Equal(t, AssetCount{Asset: "PETR4", Count: 2}, stats.MostRecommended[0])
}

func TestStats_Empty(t *testing.T) {
	stats, err := seeded(t).Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRecommendations)
	assert.Empty(t, stats.TopRecommendations)
}

func TestIngest_DerivesPercentageAndReplaces(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := NewService(ms)
	_, err := ms.ReplaceRecommendations(context.Background(), fixture())
	require.NoError(t, err)

	n, err := svc.Ingest(context.Background(), []model.RecommendationRecord{
		{BaseAsset: "petr4", RecommendedAsset: "VALE3", Confidence: 0.4, SimilarityScore: 0.3, UsersWithBoth: 40, UsersWithBase: 100, RecommendationStrength: 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := ms.ListRecommendations(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "PETR4", stored[0].BaseAsset)
	assert.Equal(t, 40.0, stored[0].PercentageAlsoInvest)
	assert.NotEmpty(t, stored[0].ID)
	assert.Equal(t, "40.0% of users who invest in PETR4 also invest in VALE3", Render(stored[0]).Message)
}

func TestIngest_RejectsInvalid(t *testing.T) {
	tests := map[string]model.RecommendationRecord{
		"same asset":       {BaseAsset: "PETR4", RecommendedAsset: "petr4", Confidence: 0.5},
		"missing base":     {RecommendedAsset: "VALE3", Confidence: 0.5},
		"confidence > 1":   {BaseAsset: "PETR4", RecommendedAsset: "VALE3", Confidence: 1.5},
		"negative support": {BaseAsset: "PETR4", RecommendedAsset: "VALE3", Support: -1},
		"both > base":      {BaseAsset: "PETR4", RecommendedAsset: "VALE3", UsersWithBoth: 5, UsersWithBase: 4},
	}
	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			ms := store.NewMemoryStore()
			_, err := NewService(ms).Ingest(context.Background(), []model.RecommendationRecord{r})
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestIngest_RejectsDuplicatePairWithoutWriting(t *testing.T) {
	ms := store.NewMemoryStore()
	_, err := ms.ReplaceRecommendations(context.Background(), fixture())
	require.NoError(t, err)

	_, err = NewService(ms).Ingest(context.Background(), []model.RecommendationRecord{
		{BaseAsset: "PETR4", RecommendedAsset: "VALE3"},
		{BaseAsset: "petr4", RecommendedAsset: "vale3"},
	})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	stored, _ := ms.ListRecommendations(context.Background(), 0)
	assert.Len(t, stored, len(fixture()))
}
