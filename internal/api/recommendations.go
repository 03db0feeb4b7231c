package api

import (
	"encoding/json"
	"math"
	"net/http"

	"github.com/fabioitj/gatherin/internal/auth"
	"github.com/fabioitj/gatherin/internal/model"
	"github.com/fabioitj/gatherin/internal/recommend"
	"github.com/fabioitj/gatherin/internal/ticker"
)

// IngestRecord is one row of the mining job's payload.
type IngestRecord struct {
	BaseAsset              string  `json:"base_asset"`
	RecommendedAsset       string  `json:"recommended_asset"`
	SimilarityScore        float64 `json:"similarity_score"`
	Support                float64 `json:"support"`
	Confidence             float64 `json:"confidence"`
	UsersWithBoth          int64   `json:"users_with_both"`
	UsersWithBase          int64   `json:"users_with_base"`
	PercentageAlsoInvest   float64 `json:"percentage_also_invest"`
	RecommendationStrength float64 `json:"recommendation_strength"`
}

// IngestRequest is the JSON body for POST /recommendations.
type IngestRequest struct {
	Recommendations []IngestRecord `json:"recommendations"`
}

// Filters echoes the effective query parameters.
type Filters struct {
	Limit         int     `json:"limit"`
	MinConfidence float64 `json:"minConfidence"`
}

// RecommendationsResponse is returned by GET /recommendations.
type RecommendationsResponse struct {
	*recommend.List
	BaseAsset *string `json:"baseAsset"`
	Filters   Filters `json:"filters"`
}

// PersonalizedResponse is returned by GET /recommendations/personalized.
type PersonalizedResponse struct {
	*recommend.List
	UserAssets []string `json:"userAssets"`
	Filters    Filters  `json:"filters"`
}

// parseFilters reads limit and minConfidence, applying defaults and clamping.
func parseFilters(w http.ResponseWriter, r *http.Request, defLimit int) (Filters, bool) {
	limit, err := queryInt(r, "limit", defLimit)
	if err != nil {
		writeError(w, "limit must be an integer", http.StatusBadRequest)
		return Filters{}, false
	}
	minConf, err := queryFloat(r, "minConfidence", recommend.DefaultMinConfidence)
	if err != nil || math.IsNaN(minConf) || minConf < 0 || minConf > 1 {
		writeError(w, "minConfidence must be a number within [0,1]", http.StatusBadRequest)
		return Filters{}, false
	}
	return Filters{Limit: recommend.ClampLimit(limit), MinConfidence: minConf}, true
}

// ListRecommendations handles GET /recommendations?baseAsset=&limit=10&minConfidence=0.1
func (s *Server) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	f, ok := parseFilters(w, r, recommend.DefaultLimit)
	if !ok {
		return
	}

	base := ticker.Normalize(r.URL.Query().Get("baseAsset"))
	var list *recommend.List
	if base != "" {
		list = s.recs.ForAsset(r.Context(), base, f.Limit, f.MinConfidence)
	} else {
		list = s.recs.Top(r.Context(), f.Limit, f.MinConfidence)
	}
	resp := RecommendationsResponse{List: list, Filters: f}
	if base != "" {
		resp.BaseAsset = &base
	}
	writeJSON(w, http.StatusOK, resp)
}

// PersonalizedRecommendations handles GET /recommendations/personalized
// Recommends assets held alongside the caller's holdings, excluding
// anything already held.
func (s *Server) PersonalizedRecommendations(w http.ResponseWriter, r *http.Request) {
	f, ok := parseFilters(w, r, recommend.DefaultPersonalizedLimit)
	if !ok {
		return
	}

	ctx := r.Context()
	held, err := s.wallet.HeldTickers(ctx, auth.UserID(ctx))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PersonalizedResponse{
		List:       s.recs.ForPortfolio(ctx, held, f.Limit, f.MinConfidence),
		UserAssets: held,
		Filters:    f,
	})
}

// RecommendationStats handles GET /recommendations/stats
func (s *Server) RecommendationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.recs.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// IngestRecommendations handles POST /recommendations (admin only)
// Replaces the stored recommendation set with the request payload.
func (s *Server) IngestRecommendations(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	records := make([]model.RecommendationRecord, 0, len(req.Recommendations))
	for _, in := range req.Recommendations {
		records = append(records, model.RecommendationRecord{
			BaseAsset:              in.BaseAsset,
			RecommendedAsset:       in.RecommendedAsset,
			SimilarityScore:        in.SimilarityScore,
			Support:                in.Support,
			Confidence:             in.Confidence,
			UsersWithBoth:          in.UsersWithBoth,
			UsersWithBase:          in.UsersWithBase,
			PercentageAlsoInvest:   in.PercentageAlsoInvest,
			RecommendationStrength: in.RecommendationStrength,
		})
	}

	n, err := s.recs.Ingest(r.Context(), records)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(EventRecommendationsReplaced, map[string]int{"count": n})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "recommendations replaced",
		"count":   n,
	})
}
