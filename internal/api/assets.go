package api

import (
	"net/http"

	"github.com/fabioitj/gatherin/internal/model"
)

// SearchAssets handles GET /assets/search?type={STOCK|FII}&search={q}
func (s *Server) SearchAssets(w http.ResponseWriter, r *http.Request) {
	assetType, err := model.ParseAssetType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, "type must be STOCK or FII", http.StatusBadRequest)
		return
	}

	res, err := s.search.Search(r.Context(), assetType, r.URL.Query().Get("search"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AssetStats handles GET /assets/stats
func (s *Server) AssetStats(w http.ResponseWriter, r *http.Request) {
	report, err := s.health.Check(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
