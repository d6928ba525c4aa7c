package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/session"
)

const testJWTSecret = "auth-test-jwt-secret"

func newAuthEnv(t *testing.T) (*svcEnv, *AuthService, *miniredis.Miniredis) {
	t.Helper()
	env := newSvcEnv(t)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	sessions := session.NewStore(rdb)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := NewAuthService(env.validator, sessions, env.store, testJWTSecret, time.Hour, logger)
	return env, auth, mr
}

func TestLogin(t *testing.T) {
	env, auth, _ := newAuthEnv(t)
	ctx := context.Background()

	signed, user, err := auth.Login(ctx, env.user.Email, "supersecretpassword")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != env.user.ID {
		t.Errorf("user id = %q, want %q", user.ID, env.user.ID)
	}
	if signed == "" {
		t.Fatal("empty session credential")
	}

	principal, err := auth.VerifySession(ctx, signed)
	if err != nil {
		t.Fatalf("VerifySession: %v", err)
	}
	if principal.Kind != model.PrincipalSession {
		t.Errorf("kind = %q", principal.Kind)
	}
	if principal.UserID != env.user.ID {
		t.Errorf("principal user id = %q", principal.UserID)
	}

	stored, err := env.store.GetUser(ctx, env.user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if stored.LastLoginAt == nil {
		t.Error("last login not recorded")
	}
}

func TestLogin_Rejections(t *testing.T) {
	env, auth, _ := newAuthEnv(t)
	ctx := context.Background()

	// Unknown email and wrong password are indistinguishable.
	_, _, err := auth.Login(ctx, "nobody@example.com", "supersecretpassword")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email err = %v, want ErrInvalidCredentials", err)
	}
	_, _, err = auth.Login(ctx, env.user.Email, "wrong-password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password err = %v, want ErrInvalidCredentials", err)
	}

	// A deactivated account behaves like a wrong password.
	disabled := &model.User{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Email:        "disabled@example.com",
		PasswordHash: env.user.PasswordHash,
		IsActive:     false,
	}
	if err := env.store.CreateUser(ctx, disabled); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	_, _, err = auth.Login(ctx, disabled.Email, "supersecretpassword")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("inactive account err = %v, want ErrInvalidCredentials", err)
	}
}

func TestVerifySession_Rejections(t *testing.T) {
	env, auth, mr := newAuthEnv(t)
	ctx := context.Background()

	// Garbage credential.
	_, err := auth.VerifySession(ctx, "not-a-jwt")
	assertAccessCode(t, err, CodeInvalidCredential)

	// A well-formed JWT signed with the wrong key.
	forged, signErr := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        "forged-session",
		Subject:   env.user.ID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("some-other-secret"))
	if signErr != nil {
		t.Fatalf("sign: %v", signErr)
	}
	_, err = auth.VerifySession(ctx, forged)
	assertAccessCode(t, err, CodeInvalidCredential)

	// A valid signature whose server-side record is gone: the TTL elapsing
	// in Redis kills the credential before the JWT expiry does.
	signed, _, loginErr := auth.Login(ctx, env.user.Email, "supersecretpassword")
	if loginErr != nil {
		t.Fatalf("Login: %v", loginErr)
	}
	mr.FastForward(2 * time.Hour)
	_, err = auth.VerifySession(ctx, signed)
	assertAccessCode(t, err, CodeInvalidCredential)
}

func TestLogout(t *testing.T) {
	env, auth, _ := newAuthEnv(t)
	ctx := context.Background()

	signed, _, err := auth.Login(ctx, env.user.Email, "supersecretpassword")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := auth.Logout(ctx, signed); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	// The signature is still valid for hours, but the session is dead.
	_, err = auth.VerifySession(ctx, signed)
	assertAccessCode(t, err, CodeInvalidCredential)

	// Logout is idempotent, and garbage credentials are ignored.
	if err := auth.Logout(ctx, signed); err != nil {
		t.Errorf("second Logout: %v", err)
	}
	if err := auth.Logout(ctx, "garbage"); err != nil {
		t.Errorf("garbage Logout: %v", err)
	}
}

func TestAuthenticate_Hybrid(t *testing.T) {
	env, auth, _ := newAuthEnv(t)
	ctx := context.Background()

	issued := env.issue(t, IssueParams{Permissions: []string{"key:read"}})
	signed, _, err := auth.Login(ctx, env.user.Email, "supersecretpassword")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Same entry point resolves both credential types.
	principal, err := auth.Authenticate(ctx, issued.Secret, "")
	if err != nil {
		t.Fatalf("Authenticate api token: %v", err)
	}
	if principal.Kind != model.PrincipalAPIToken || principal.TokenID != issued.Token.ID {
		t.Errorf("api token principal = %+v", principal)
	}

	principal, err = auth.Authenticate(ctx, signed, "")
	if err != nil {
		t.Fatalf("Authenticate session: %v", err)
	}
	if principal.Kind != model.PrincipalSession {
		t.Errorf("session principal = %+v", principal)
	}

	// A credential matching neither path collapses to one generic error.
	_, err = auth.Authenticate(ctx, "neither-kind-of-credential", "")
	assertAccessCode(t, err, CodeInvalidCredential)
}

func TestAuthenticate_RevokedTokenNotASession(t *testing.T) {
	env, auth, _ := newAuthEnv(t)
	ctx := context.Background()

	issued := env.issue(t, IssueParams{})
	if err := env.lifecycle.Revoke(ctx, env.user.ID, issued.Token.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// The rejected token falls through to the session path, fails there too,
	// and the caller sees the generic credential error.
	_, err := auth.Authenticate(ctx, issued.Secret, "")
	assertAccessCode(t, err, CodeInvalidCredential)
}
