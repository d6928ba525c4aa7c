package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/server/middleware"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/service"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/store"
)

// TokenHandler manages a user's API tokens: create, list, inspect, update,
// regenerate, and revoke.
type TokenHandler struct {
	lifecycle *service.Lifecycle
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(lifecycle *service.Lifecycle) *TokenHandler {
	return &TokenHandler{lifecycle: lifecycle}
}

// createTokenRequest is the expected payload for Create.
type createTokenRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Permissions []string   `json:"permissions"`
	Scopes      []string   `json:"scopes"`
	IPAllowList []string   `json:"ip_allow_list"`
	RateLimit   int        `json:"rate_limit"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// issuedTokenResponse includes the plaintext secret (shown once only).
type issuedTokenResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Token       string     `json:"token"` // Plaintext, shown ONCE.
	Preview     string     `json:"token_preview"`
	Permissions []string   `json:"permissions"`
	Scopes      []string   `json:"scopes"`
	Status      string     `json:"status"`
	RateLimit   int        `json:"rate_limit"`
	IPAllowList []string   `json:"ip_allow_list"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Create issues a new API token for the authenticated user and returns the
// raw secret exactly once.
// POST /api/v1/tokens
func (h *TokenHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req createTokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	issued, err := h.lifecycle.Issue(r.Context(), principal.UserID, service.IssueParams{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
		Scopes:      req.Scopes,
		IPAllowList: req.IPAllowList,
		RateLimit:   req.RateLimit,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeServiceError(w, err, "Failed to create token")
		return
	}

	writeJSON(w, http.StatusCreated, issuedResponse(issued))
}

// List returns the user's tokens, revoked excluded unless include_revoked.
// GET /api/v1/tokens
func (h *TokenHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	tokens, err := h.lifecycle.List(r.Context(), principal.UserID, queryBool(r, "include_revoked"))
	if err != nil {
		writeServiceError(w, err, "Failed to list tokens")
		return
	}

	resources := make([]map[string]interface{}, 0, len(tokens))
	for i := range tokens {
		resources = append(resources, tokenToMap(&tokens[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// Get returns one token by ID.
// GET /api/v1/tokens/{tokenID}
func (h *TokenHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "tokenID")

	tok, err := h.lifecycle.Get(r.Context(), principal.UserID, id)
	if err != nil {
		writeServiceError(w, err, "Failed to get token")
		return
	}

	writeJSON(w, http.StatusOK, tokenToMap(tok))
}

// updateTokenRequest is the expected payload for Update. Absent fields are
// left untouched.
type updateTokenRequest struct {
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	RateLimit   *int       `json:"rate_limit,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	IPAllowList []string   `json:"ip_allow_list,omitempty"`
}

// Update applies a partial metadata update to an active token.
// PATCH /api/v1/tokens/{tokenID}
func (h *TokenHandler) Update(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "tokenID")

	var req updateTokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	err := h.lifecycle.UpdateMetadata(r.Context(), principal.UserID, id, service.MetadataParams{
		Name:        req.Name,
		Description: req.Description,
		RateLimit:   req.RateLimit,
		ExpiresAt:   req.ExpiresAt,
		IPAllowList: req.IPAllowList,
	})
	if err != nil {
		writeServiceError(w, err, "Failed to update token")
		return
	}

	tok, err := h.lifecycle.Get(r.Context(), principal.UserID, id)
	if err != nil {
		writeServiceError(w, err, "Failed to get token")
		return
	}
	writeJSON(w, http.StatusOK, tokenToMap(tok))
}

// updatePermissionsRequest is the expected payload for UpdatePermissions.
type updatePermissionsRequest struct {
	Permissions []string `json:"permissions"`
	Scopes      []string `json:"scopes,omitempty"`
}

// UpdatePermissions replaces an active token's permission and scope sets.
// PUT /api/v1/tokens/{tokenID}/permissions
func (h *TokenHandler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "tokenID")

	var req updatePermissionsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	if err := h.lifecycle.UpdatePermissions(r.Context(), principal.UserID, id, req.Permissions, req.Scopes); err != nil {
		writeServiceError(w, err, "Failed to update permissions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Permissions updated",
	})
}

// Regenerate rotates an active token's secret and returns the fresh secret
// exactly once.
// POST /api/v1/tokens/{tokenID}/regenerate
func (h *TokenHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "tokenID")

	issued, err := h.lifecycle.Regenerate(r.Context(), principal.UserID, id)
	if err != nil {
		writeServiceError(w, err, "Failed to regenerate token")
		return
	}

	writeJSON(w, http.StatusOK, issuedResponse(issued))
}

// Revoke permanently deactivates a token. Revoking twice is not an error.
// DELETE /api/v1/tokens/{tokenID}
func (h *TokenHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	id := chi.URLParam(r, "tokenID")

	if err := h.lifecycle.Revoke(r.Context(), principal.UserID, id); err != nil {
		writeServiceError(w, err, "Failed to revoke token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Token revoked",
	})
}

// Stats aggregates the user's tokens by status, expiry, and usage.
// GET /api/v1/tokens/stats
func (h *TokenHandler) Stats(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	stats, err := h.lifecycle.Stats(r.Context(), principal.UserID)
	if err != nil {
		writeServiceError(w, err, "Failed to compute stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// ---------------------------------------------------------------------------
// Serialization helpers
// ---------------------------------------------------------------------------

func issuedResponse(issued *service.IssuedToken) issuedTokenResponse {
	t := issued.Token
	return issuedTokenResponse{
		ID:          t.ID,
		Name:        t.Name,
		Token:       issued.Secret,
		Preview:     t.Preview,
		Permissions: t.Permissions,
		Scopes:      t.Scopes,
		Status:      string(t.Status),
		RateLimit:   t.RateLimit,
		IPAllowList: t.IPAllowList,
		ExpiresAt:   t.ExpiresAt,
		CreatedAt:   t.CreatedAt,
	}
}

// tokenToMap serializes a token for listings, never exposing the hash or
// lookup digest, with presentation fields for time until expiry.
func tokenToMap(t *model.Token) map[string]interface{} {
	m := map[string]interface{}{
		"id":            t.ID,
		"name":          t.Name,
		"description":   t.Description,
		"token_preview": t.Preview,
		"permissions":   t.Permissions,
		"scopes":        t.Scopes,
		"status":        t.Status,
		"rate_limit":    t.RateLimit,
		"ip_allow_list": t.IPAllowList,
		"usage_count":   t.UsageCount,
		"created_at":    t.CreatedAt,
		"updated_at":    t.UpdatedAt,
	}
	if t.ExpiresAt != nil {
		m["expires_at"] = t.ExpiresAt
		expiresIn, days := timeUntil(*t.ExpiresAt, time.Now().UTC())
		m["expires_in"] = expiresIn
		m["days_until_expiry"] = days
	}
	if t.LastUsedAt != nil {
		m["last_used_at"] = t.LastUsedAt
	}
	if t.LastUsedIP != nil {
		m["last_used_ip"] = *t.LastUsedIP
	}
	return m
}

// timeUntil renders the remaining lifetime as a coarse human string plus a
// whole-day count.
func timeUntil(expiresAt, now time.Time) (string, int) {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return "Expired", 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours), days
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes), 0
	default:
		return fmt.Sprintf("%dm", minutes), 0
	}
}

// writeServiceError maps lifecycle and store errors onto the HTTP error
// envelope: named-field 400s for validation, 404 for unknown or foreign
// tokens, generic 500 otherwise.
func writeServiceError(w http.ResponseWriter, err error, fallbackMsg string) {
	if fe, ok := service.AsFieldError(err); ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fe.Message,
			map[string]interface{}{"field": fe.Field})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Token not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", fallbackMsg)
}
