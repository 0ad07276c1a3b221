package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tcsgo-engine/internal/model"
	"tcsgo-engine/internal/service"
	"tcsgo-engine/pkg/apierror"
	"tcsgo-engine/pkg/response"

	"github.com/go-chi/chi/v5"
)

// EconomyHandler handles case economy HTTP requests.
type EconomyHandler struct {
	economy *service.EconomyService
}

// NewEconomyHandler creates a new economy handler.
func NewEconomyHandler(economy *service.EconomyService) *EconomyHandler {
	return &EconomyHandler{economy: economy}
}

func identityFromURL(r *http.Request) (model.Identity, error) {
	identity := model.Identity{
		Platform: chi.URLParam(r, "platform"),
		Username: chi.URLParam(r, "username"),
	}
	return identity, identity.Validate()
}

// writeResult maps the three-way dispatch outcome onto HTTP.
func writeResult(w http.ResponseWriter, result model.Result) {
	switch result.Status {
	case model.StatusSuccess:
		response.OK(w, result.Data)
	case model.StatusDefiniteFailure:
		response.Error(w, apierror.ConsumeError(result.Err))
	default:
		response.Error(w, apierror.OutcomeUnknown(""))
	}
}

// mapServiceError converts pre-dispatch validation failures.
func mapServiceError(err error) *apierror.Error {
	switch {
	case errors.Is(err, service.ErrInsufficientFunds):
		return apierror.PreconditionFailed("INSUFFICIENT_FUNDS", err.Error())
	case strings.Contains(err.Error(), "unknown case"),
		strings.Contains(err.Error(), "no price"):
		return apierror.NotFound(err.Error())
	default:
		return apierror.BadRequest(err.Error())
	}
}

// OpenRequest is the body of an open-case request.
type OpenRequest struct {
	Case string `json:"case"`
}

// OpenCase handles POST /api/v1/users/{platform}/{username}/open
func (h *EconomyHandler) OpenCase(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromURL(r)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()
	if req.Case == "" {
		response.Error(w, apierror.BadRequest("case is required"))
		return
	}

	result, err := h.economy.OpenCase(r.Context(), identity, req.Case)
	if err != nil {
		response.Error(w, mapServiceError(err))
		return
	}
	writeResult(w, result)
}

// BuyRequest is the body of a purchase request.
type BuyRequest struct {
	Case     string `json:"case,omitempty"`
	Key      string `json:"key,omitempty"`
	Quantity int    `json:"quantity"`
}

// BuyCases handles POST /api/v1/users/{platform}/{username}/cases
func (h *EconomyHandler) BuyCases(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromURL(r)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()
	if req.Case == "" {
		response.Error(w, apierror.BadRequest("case is required"))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	result, err := h.economy.BuyCases(r.Context(), identity, req.Case, req.Quantity)
	if err != nil {
		response.Error(w, mapServiceError(err))
		return
	}
	writeResult(w, result)
}

// BuyKeys handles POST /api/v1/users/{platform}/{username}/keys
func (h *EconomyHandler) BuyKeys(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromURL(r)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()
	if req.Key == "" {
		response.Error(w, apierror.BadRequest("key is required"))
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	result, err := h.economy.BuyKeys(r.Context(), identity, req.Key, req.Quantity)
	if err != nil {
		response.Error(w, mapServiceError(err))
		return
	}
	writeResult(w, result)
}

// SellRequest is the body of a sell request.
type SellRequest struct {
	ItemOID string `json:"item_oid"`
}

// SellItem handles POST /api/v1/users/{platform}/{username}/sell
func (h *EconomyHandler) SellItem(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromURL(r)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	var req SellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()
	if req.ItemOID == "" {
		response.Error(w, apierror.BadRequest("item_oid is required"))
		return
	}

	result, err := h.economy.SellItem(r.Context(), identity, req.ItemOID)
	if err != nil {
		response.Error(w, mapServiceError(err))
		return
	}
	writeResult(w, result)
}

// GetInventory handles GET /api/v1/users/{platform}/{username}/inventory
func (h *EconomyHandler) GetInventory(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromURL(r)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	ledger, err := h.economy.Inventory(r.Context(), identity)
	if err != nil {
		response.Error(w, apierror.InternalError(err.Error()))
		return
	}
	response.OK(w, ledger)
}

// GetBalance handles GET /api/v1/users/{platform}/{username}/balance
func (h *EconomyHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromURL(r)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	balance, err := h.economy.Balance(r.Context(), identity)
	if err != nil {
		response.Error(w, apierror.InternalError(err.Error()))
		return
	}
	response.OK(w, map[string]interface{}{
		"identity": identity.Key(),
		"balance":  balance,
	})
}
