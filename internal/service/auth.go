package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/session"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/store"
)

// DefaultSessionTTL is the session lifetime unless configured otherwise.
const DefaultSessionTTL = 24 * time.Hour

// AuthService is the hybrid authentication gate: it resolves a single bearer
// credential into a Principal, whether the credential is an API token or a
// JWT session, and owns session issuance and teardown.
type AuthService struct {
	validator  *Validator
	sessions   *session.Store
	store      *store.Store
	jwtSecret  []byte
	sessionTTL time.Duration
	logger     *slog.Logger
}

// NewAuthService creates an AuthService.
func NewAuthService(validator *Validator, sessions *session.Store, st *store.Store, jwtSecret string, sessionTTL time.Duration, logger *slog.Logger) *AuthService {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &AuthService{
		validator:  validator,
		sessions:   sessions,
		store:      st,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

type sessionClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Authenticate resolves a bearer credential into a Principal. The API-token
// path is always tried first and the session path second, in that fixed
// order, so a probe cannot learn credential type from evaluation order.
// Neither path matching yields a single generic error.
func (a *AuthService) Authenticate(ctx context.Context, bearer, clientIP string) (*model.Principal, error) {
	principal, err := a.validator.Validate(ctx, bearer, nil, nil, clientIP)
	if err == nil {
		return principal, nil
	}
	if _, ok := AsAccessError(err); !ok {
		// Store or infrastructure failure, not a rejection.
		return nil, err
	}

	principal, sessErr := a.VerifySession(ctx, bearer)
	if sessErr == nil {
		return principal, nil
	}
	if _, ok := AsAccessError(sessErr); !ok && !errors.Is(sessErr, session.ErrNotFound) {
		return nil, sessErr
	}

	return nil, &AccessError{Code: CodeInvalidCredential, Message: "invalid credential"}
}

// Login verifies a user's password, opens a session record, and returns the
// signed session credential. Wrong email and wrong password are
// indistinguishable to the caller.
func (a *AuthService) Login(ctx context.Context, email, password string) (string, *model.User, error) {
	user, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !user.IsActive {
		return "", nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	sess := &model.Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    user.ID,
		ExpiresAt: now.Add(a.sessionTTL),
		CreatedAt: now,
	}

	claims := sessionClaims{
		UserID: user.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
			Issuer:    "keyorbit",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session token: %w", err)
	}

	if err := a.sessions.Put(ctx, sess); err != nil {
		return "", nil, err
	}

	if err := a.store.UpdateUserLastLogin(ctx, user.ID); err != nil {
		a.logger.Warn("failed to update last login", "user_id", user.ID, "error", err)
	}

	a.logger.Info("session opened", "user_id", user.ID, "session_id", sess.ID)
	return signed, user, nil
}

// SessionTTL returns the configured session lifetime.
func (a *AuthService) SessionTTL() time.Duration {
	return a.sessionTTL
}

// VerifySession checks a JWT session credential: signature, expiry, and the
// presence of a live server-side session record. A logged-out session fails
// even while the signature is still valid.
func (a *AuthService) VerifySession(ctx context.Context, tokenStr string) (*model.Principal, error) {
	claims, err := a.parseClaims(tokenStr)
	if err != nil {
		return nil, &AccessError{Code: CodeInvalidCredential, Message: "invalid session token"}
	}

	sess, err := a.sessions.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, &AccessError{Code: CodeInvalidCredential, Message: "session no longer active"}
		}
		return nil, err
	}
	if sess.UserID != claims.UserID {
		return nil, &AccessError{Code: CodeInvalidCredential, Message: "invalid session token"}
	}

	return &model.Principal{
		Kind:   model.PrincipalSession,
		UserID: claims.UserID,
	}, nil
}

// Logout deletes the session record behind a session credential. Idempotent;
// a malformed or unknown credential is not an error worth surfacing.
func (a *AuthService) Logout(ctx context.Context, tokenStr string) error {
	claims, err := a.parseClaims(tokenStr)
	if err != nil {
		return nil
	}
	return a.sessions.Delete(ctx, claims.ID)
}

func (a *AuthService) parseClaims(tokenStr string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid || claims.ID == "" {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}
