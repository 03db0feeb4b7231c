package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fabioitj/gatherin/internal/auth"
	"github.com/fabioitj/gatherin/internal/wallet"
)

// AddAssetRequest is the JSON body for POST /wallet/assets.
type AddAssetRequest struct {
	Ticker       string `json:"ticker"`
	Type         string `json:"type"` // STOCK or FII
	Quantity     int64  `json:"quantity"`
	AveragePrice Amount `json:"averagePrice"`
}

// UpdateAssetRequest is the JSON body for PUT /wallet/assets/{assetId}.
type UpdateAssetRequest struct {
	Quantity     *int64  `json:"quantity"`
	AveragePrice *Amount `json:"averagePrice"`
}

// GetWallet handles GET /wallet
// Returns the caller's portfolio valued at current prices, creating an
// empty one on first access.
func (s *Server) GetWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := s.wallet.GetOrCreate(ctx, auth.UserID(ctx))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.valuation.Valuate(ctx, p))
}

// AddAsset handles POST /wallet/assets
func (s *Server) AddAsset(w http.ResponseWriter, r *http.Request) {
	var req AddAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	pos, err := s.wallet.AddPosition(ctx, auth.UserID(ctx), wallet.AddInput{
		Ticker:      req.Ticker,
		Type:        req.Type,
		Quantity:    req.Quantity,
		AverageCost: req.AveragePrice.Decimal,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// UpdateAsset handles PUT /wallet/assets/{assetId}
func (s *Server) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	var req UpdateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	in := wallet.UpdateInput{Quantity: req.Quantity}
	if req.AveragePrice != nil {
		cost := req.AveragePrice.Decimal
		in.AverageCost = &cost
	}

	ctx := r.Context()
	pos, err := s.wallet.UpdatePosition(ctx, auth.UserID(ctx), chi.URLParam(r, "assetId"), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// DeleteAsset handles DELETE /wallet/assets/{assetId}
func (s *Server) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.wallet.DeletePosition(ctx, auth.UserID(ctx), chi.URLParam(r, "assetId")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
