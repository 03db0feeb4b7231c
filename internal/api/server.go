// Package api provides the HTTP handlers for asset search, the valued
// wallet and recommendations.
//
// All monetary values use shopspring/decimal. Amounts are encoded as JSON
// strings; requests accept numbers or strings, including comma-decimal
// strings such as "30,50".
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fabioitj/gatherin/internal/auth"
	"github.com/fabioitj/gatherin/internal/health"
	"github.com/fabioitj/gatherin/internal/model"
	"github.com/fabioitj/gatherin/internal/recommend"
	"github.com/fabioitj/gatherin/internal/search"
	"github.com/fabioitj/gatherin/internal/store"
	"github.com/fabioitj/gatherin/internal/valuation"
	"github.com/fabioitj/gatherin/internal/wallet"
)

// Server holds the services behind the HTTP surface.
type Server struct {
	search    *search.Service
	wallet    *wallet.Service
	valuation *valuation.Engine
	recs      *recommend.Service
	health    *health.Monitor
	hub       *WSHub // optional; nil disables event broadcasts
}

// Deps are the collaborators of a Server.
type Deps struct {
	Search    *search.Service
	Wallet    *wallet.Service
	Valuation *valuation.Engine
	Recs      *recommend.Service
	Health    *health.Monitor
	Hub       *WSHub
}

// NewServer creates the HTTP server. Pass a nil Hub if websocket
// broadcasting is not needed.
func NewServer(d Deps) *Server {
	return &Server{
		search:    d.Search,
		wallet:    d.Wallet,
		valuation: d.Valuation,
		recs:      d.Recs,
		health:    d.Health,
		hub:       d.Hub,
	}
}

// Mount registers every route on r. User routes require a valid token;
// POST /recommendations additionally requires the admin role.
func (s *Server) Mount(r chi.Router, authn *auth.Authenticator) {
	r.Get("/assets/search", s.SearchAssets)
	r.Get("/assets/stats", s.AssetStats)

	r.Get("/recommendations", s.ListRecommendations)
	r.Get("/recommendations/stats", s.RecommendationStats)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(authn.Middleware)

		r.Get("/wallet", s.GetWallet)
		r.Post("/wallet/assets", s.AddAsset)
		r.Put("/wallet/assets/{assetId}", s.UpdateAsset)
		r.Delete("/wallet/assets/{assetId}", s.DeleteAsset)

		r.Get("/recommendations/personalized", s.PersonalizedRecommendations)

		r.With(auth.RequireAdmin).Post("/recommendations", s.IngestRecommendations)
	})
}

// BroadcastHealth pushes a cache-health report to websocket clients.
func (s *Server) BroadcastHealth(report *health.Report) {
	if s.hub != nil {
		s.hub.Broadcast(EventCacheHealth, report)
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *wallet.ValidationError
	var fe *search.FallbackError

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Message, "field": ve.Field})
	case errors.Is(err, model.ErrInvalidAssetType), errors.Is(err, recommend.ErrInvalidRecord):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrDuplicateTicker):
		writeError(w, "asset already in wallet", http.StatusConflict)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.As(err, &fe):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": "asset search unavailable",
			"details": map[string]string{
				"cache":    fe.CacheErr.Error(),
				"fallback": fe.FallbackErr.Error(),
			},
		})
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// queryFloat parses an optional float query parameter.
func queryFloat(r *http.Request, name string, def float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseFloat(raw, 64)
}
