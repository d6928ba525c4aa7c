package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"

	// bearerCredentialKey carries the raw bearer string for handlers that
	// need it again (logout must delete the session it was called with).
	bearerCredentialKey contextKeyAuth = "bearer_credential"
)

// Authenticate returns an HTTP middleware that resolves the request's bearer
// credential through the hybrid gate: API token first, then JWT session. On
// success a model.Principal is attached to the request context; on failure a
// 401 JSON error with a machine-readable code is returned.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "MISSING_TOKEN",
					"Authorization header must be: Bearer <token>")
				return
			}

			principal, err := authSvc.Authenticate(r.Context(), bearer, ClientIP(r))
			if err != nil {
				if ae, ok := service.AsAccessError(err); ok {
					writeAuthError(w, http.StatusUnauthorized, string(ae.Code), ae.Message)
					return
				}
				writeAuthError(w, http.StatusInternalServerError, "INTERNAL", "Authentication error")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			ctx = context.WithValue(ctx, bearerCredentialKey, bearer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireToken returns an HTTP middleware that accepts only API tokens
// carrying the given permissions and scopes. Session credentials do not pass
// this gate; it protects machine-facing resources.
func RequireToken(validator *service.Validator, permissions, scopes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "MISSING_TOKEN",
					"Authorization header must be: Bearer <token>")
				return
			}

			principal, err := validator.Validate(r.Context(), bearer, permissions, scopes, ClientIP(r))
			if err != nil {
				if ae, ok := service.AsAccessError(err); ok {
					writeAuthError(w, http.StatusUnauthorized, string(ae.Code), ae.Message)
					return
				}
				writeAuthError(w, http.StatusInternalServerError, "INTERNAL", "Authentication error")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil for an unauthenticated request.
func GetPrincipal(ctx context.Context) *model.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*model.Principal); ok {
		return p
	}
	return nil
}

// GetBearer returns the raw bearer credential the request authenticated with.
func GetBearer(ctx context.Context) string {
	if b, ok := ctx.Value(bearerCredentialKey).(string); ok {
		return b
	}
	return ""
}

// ClientIP resolves the client address: the first entry of X-Forwarded-For
// when present, otherwise the direct peer address without its port.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: code, Message: message},
	})
}
