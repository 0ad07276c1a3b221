package handler

import (
	"encoding/json"
	"net/http"

	"tcsgo-engine/internal/model"
	"tcsgo-engine/internal/repository"
	"tcsgo-engine/internal/service"
	"tcsgo-engine/pkg/apierror"
	"tcsgo-engine/pkg/response"
)

// LinkHandler handles account-link HTTP requests.
type LinkHandler struct {
	links     repository.LinkRepository
	reconcile *service.ReconcileService
}

// NewLinkHandler creates a new link handler.
func NewLinkHandler(links repository.LinkRepository, reconcile *service.ReconcileService) *LinkHandler {
	return &LinkHandler{links: links, reconcile: reconcile}
}

// LinkRequest is the body of a link request.
type LinkRequest struct {
	From model.Identity `json:"from"`
	To   model.Identity `json:"to"`
}

// CreateLink handles POST /api/v1/links. Linking immediately reconciles the
// group so both accounts see the merged inventory.
func (h *LinkHandler) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	if err := req.From.Validate(); err != nil {
		response.Error(w, apierror.BadRequest("from: "+err.Error()))
		return
	}
	if err := req.To.Validate(); err != nil {
		response.Error(w, apierror.BadRequest("to: "+err.Error()))
		return
	}
	if req.From.Key() == req.To.Key() {
		response.Error(w, apierror.BadRequest("cannot link an identity to itself"))
		return
	}

	if err := h.links.CreateLink(r.Context(), req.From, req.To); err != nil {
		response.Error(w, apierror.InternalError(err.Error()))
		return
	}

	report, err := h.reconcile.Reconcile(r.Context(), req.From)
	if err != nil {
		response.Error(w, apierror.Conflict("linked, but inventories not merged: "+err.Error()))
		return
	}

	response.OK(w, report)
}

// GetLinks handles GET /api/v1/links/{platform}/{username}
func (h *LinkHandler) GetLinks(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromURL(r)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	linked, err := h.links.ResolveLinks(r.Context(), identity)
	if err != nil {
		response.Error(w, apierror.InternalError(err.Error()))
		return
	}

	keys := make([]string, len(linked))
	for i, id := range linked {
		keys[i] = id.Key()
	}
	response.OK(w, map[string]interface{}{
		"identity": identity.Key(),
		"linked":   keys,
	})
}

// RemoveLink handles DELETE /api/v1/links/{platform}/{username}
func (h *LinkHandler) RemoveLink(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromURL(r)
	if err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}

	if err := h.links.RemoveLink(r.Context(), identity); err != nil {
		response.Error(w, apierror.InternalError(err.Error()))
		return
	}
	response.OK(w, map[string]string{"status": "unlinked"})
}
