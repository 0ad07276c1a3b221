package handler

import (
	"net/http"

	"tcsgo-engine/internal/catalog"
	"tcsgo-engine/internal/pricing"
	"tcsgo-engine/pkg/apierror"
	"tcsgo-engine/pkg/response"

	"github.com/go-chi/chi/v5"
)

// CatalogHandler handles container catalog HTTP requests.
type CatalogHandler struct {
	catalog *catalog.Catalog
	prices  *pricing.Book
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(cat *catalog.Catalog, prices *pricing.Book) *CatalogHandler {
	return &CatalogHandler{catalog: cat, prices: prices}
}

// ListCases handles GET /api/v1/cases
func (h *CatalogHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	ids := h.catalog.List()

	cases := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		def, ok := h.catalog.Get(id)
		if !ok {
			continue
		}
		entry := map[string]interface{}{
			"id":           def.ID,
			"name":         def.Name,
			"case_type":    def.CaseType,
			"requires_key": def.RequiresKey(),
		}
		if price, ok := h.prices.CasePrice(def.ID); ok {
			entry["price"] = price
		}
		cases = append(cases, entry)
	}

	response.OK(w, map[string]interface{}{
		"cases": cases,
		"count": len(cases),
	})
}

// GetCase handles GET /api/v1/cases/{ref}
func (h *CatalogHandler) GetCase(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	def, ok := h.catalog.Resolve(ref)
	if !ok {
		response.Error(w, apierror.NotFound("case not found: "+ref))
		return
	}

	entry := map[string]interface{}{
		"id":           def.ID,
		"name":         def.Name,
		"case_type":    def.CaseType,
		"key_id":       def.KeyID,
		"requires_key": def.RequiresKey(),
		"tiers":        def.TierOrder(),
		"odds":         def.OddsWeights,
	}
	if price, ok := h.prices.CasePrice(def.ID); ok {
		entry["price"] = price
	}
	if def.RequiresKey() {
		if price, ok := h.prices.KeyPrice(def.KeyID); ok {
			entry["key_price"] = price
		}
	}

	response.OK(w, entry)
}
