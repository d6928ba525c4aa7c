package handler

import (
	"errors"
	"net/http"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/server/middleware"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/service"
)

// AuthHandler serves login, logout, and identity introspection.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges email/password credentials for a session JWT.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Email and password are required")
		return
	}

	token, user, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.auth.SessionTTL().Seconds()),
		"user": map[string]interface{}{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
		},
	})
}

// Logout terminates the bearer's session. Already-dead sessions are fine.
// DELETE /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	bearer := middleware.GetBearer(r.Context())
	if err := h.auth.Logout(r.Context(), bearer); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logged out",
	})
}

// Me echoes the authenticated principal, whichever credential kind produced
// it.
// GET /api/v1/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	resp := map[string]interface{}{
		"kind":    principal.Kind,
		"user_id": principal.UserID,
	}
	if principal.Kind == model.PrincipalAPIToken {
		resp["token_id"] = principal.TokenID
		resp["token_name"] = principal.TokenName
		resp["permissions"] = principal.Permissions
		resp["scopes"] = principal.Scopes
		resp["rate_limit"] = principal.RateLimit
	}
	writeJSON(w, http.StatusOK, resp)
}
