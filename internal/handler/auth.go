package handler

import (
	"encoding/json"
	"net/http"

	"tcsgo-engine/internal/model"
	"tcsgo-engine/internal/service"
	"tcsgo-engine/pkg/apierror"
	"tcsgo-engine/pkg/response"
)

// AuthHandler handles authentication-related HTTP requests.
type AuthHandler struct {
	tokenService *service.TokenService
	apiKeys      []string
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(tokenService *service.TokenService, apiKeys []string) *AuthHandler {
	return &AuthHandler{
		tokenService: tokenService,
		apiKeys:      apiKeys,
	}
}

// TokenRequest represents the request body for token generation.
type TokenRequest struct {
	APIKey   string `json:"api_key"`
	Platform string `json:"platform"`
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

// TokenResponse represents the response for token generation.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// GenerateToken handles POST /auth/token
func (h *AuthHandler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierror.BadRequest("invalid request body"))
		return
	}
	defer r.Body.Close()

	identity := model.Identity{Platform: req.Platform, Username: req.Username}
	if err := identity.Validate(); err != nil {
		response.Error(w, apierror.BadRequest(err.Error()))
		return
	}
	if !h.validKey(req.APIKey) {
		response.Error(w, apierror.Unauthorized("invalid api key"))
		return
	}

	role := req.Role
	if role == "" {
		role = "viewer"
	}
	token, err := h.tokenService.GenerateToken(r.Context(), model.TokenData{
		Identity: identity,
		Role:     role,
	})
	if err != nil {
		response.Error(w, apierror.InternalError("failed to generate token"))
		return
	}

	response.OK(w, TokenResponse{
		Token:     token,
		ExpiresIn: 3600,
	})
}

func (h *AuthHandler) validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, valid := range h.apiKeys {
		if key == valid {
			return true
		}
	}
	return false
}

// RevokeToken handles POST /auth/revoke
func (h *AuthHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Token")
	if token == "" {
		response.Error(w, apierror.BadRequest("X-Token header required"))
		return
	}

	if err := h.tokenService.RevokeToken(r.Context(), token); err != nil {
		response.Error(w, apierror.InternalError("failed to revoke token"))
		return
	}

	response.OK(w, map[string]string{"status": "revoked"})
}

// RefreshToken handles POST /auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Token")
	if token == "" {
		response.Error(w, apierror.BadRequest("X-Token header required"))
		return
	}

	if err := h.tokenService.RefreshToken(r.Context(), token); err != nil {
		response.Error(w, apierror.Unauthorized(err.Error()))
		return
	}

	response.OK(w, map[string]interface{}{
		"status":     "refreshed",
		"expires_in": 3600,
	})
}
