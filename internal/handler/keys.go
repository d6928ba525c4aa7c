package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/server/middleware"
)

// KeysHandler serves the demo protected resource guarded by API-token-only
// permission gates. It exists to exercise the enforcement path end to end;
// the payloads are illustrative.
type KeysHandler struct{}

// NewKeysHandler creates a KeysHandler.
func NewKeysHandler() *KeysHandler {
	return &KeysHandler{}
}

// List requires the key:read permission.
// GET /api/v1/keys
func (h *KeysHandler) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys": []map[string]interface{}{
			{"id": "key-001", "name": "production-signing", "algorithm": "RS256"},
			{"id": "key-002", "name": "staging-signing", "algorithm": "ES256"},
		},
		"accessed_by": principal.TokenName,
		"accessed_at": time.Now().UTC(),
	})
}

// Create requires the key:write permission.
// POST /api/v1/keys
func (h *KeysHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())

	var req struct {
		Name      string `json:"name"`
		Algorithm string `json:"algorithm"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Name is required",
			map[string]interface{}{"field": "name"})
		return
	}
	if req.Algorithm == "" {
		req.Algorithm = "RS256"
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         uuid.Must(uuid.NewV7()).String(),
		"name":       req.Name,
		"algorithm":  req.Algorithm,
		"created_by": principal.TokenName,
		"created_at": time.Now().UTC(),
	})
}
