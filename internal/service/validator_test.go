package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/secret"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/store"
)

// ---------------------------------------------------------------------------
// Shared fixtures for the service tests
// ---------------------------------------------------------------------------

type svcEnv struct {
	store     *store.Store
	codec     *secret.Codec
	validator *Validator
	lifecycle *Lifecycle
	user      *model.User
}

func newSvcEnv(t *testing.T) *svcEnv {
	t.Helper()

	st, err := store.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec := secret.NewCodec([]byte("service-test-lookup-key"), bcrypt.MinCost)

	env := &svcEnv{
		store:     st,
		codec:     codec,
		validator: NewValidator(st, codec, 0, logger),
		lifecycle: NewLifecycle(st, codec, logger),
	}

	env.user = &model.User{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Email:    "svc@example.com",
		Name:     "Service Test User",
		IsActive: true,
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("supersecretpassword"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	env.user.PasswordHash = string(hash)
	if err := st.CreateUser(context.Background(), env.user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return env
}

// issue creates an active token for the env user and returns it with its
// raw secret.
func (e *svcEnv) issue(t *testing.T, p IssueParams) *IssuedToken {
	t.Helper()
	if p.Name == "" {
		p.Name = "svc-test-token"
	}
	issued, err := e.lifecycle.Issue(context.Background(), e.user.ID, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return issued
}

// issueRaw inserts a token record directly, bypassing Lifecycle validation.
// Needed for states Issue refuses to create, like already-past expiry.
func (e *svcEnv) issueRaw(t *testing.T, mutate func(*model.Token)) (*model.Token, string) {
	t.Helper()
	material, err := e.codec.Issue()
	if err != nil {
		t.Fatalf("codec.Issue: %v", err)
	}
	tok := &model.Token{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       e.user.ID,
		Name:         "raw-token",
		SecretHash:   material.Hash,
		LookupDigest: material.Digest,
		Preview:      material.Preview,
		Permissions:  []string{"key:read"},
		Scopes:       []string{},
		Status:       model.StatusActive,
		RateLimit:    model.RateLimitDefault,
		IPAllowList:  []string{},
	}
	if mutate != nil {
		mutate(tok)
	}
	if err := e.store.CreateToken(context.Background(), tok); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	return tok, material.Secret
}

func assertAccessCode(t *testing.T, err error, want Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected access error %s, got nil", want)
	}
	ae, ok := AsAccessError(err)
	if !ok {
		t.Fatalf("expected *AccessError, got %T: %v", err, err)
	}
	if ae.Code != want {
		t.Fatalf("access error code = %s, want %s (message %q)", ae.Code, want, ae.Message)
	}
}

func (e *svcEnv) usageCount(t *testing.T, tokenID string) int64 {
	t.Helper()
	tok, err := e.store.GetToken(context.Background(), tokenID)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	return tok.UsageCount
}

// ---------------------------------------------------------------------------
// Validator
// ---------------------------------------------------------------------------

func TestValidate_Success(t *testing.T) {
	env := newSvcEnv(t)
	issued := env.issue(t, IssueParams{
		Permissions: []string{"key:read", "key:write"},
		Scopes:      []string{"deploy"},
	})

	principal, err := env.validator.Validate(context.Background(), issued.Secret,
		[]string{"key:read"}, []string{"deploy"}, "203.0.113.7")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if principal.Kind != model.PrincipalAPIToken {
		t.Errorf("kind = %q", principal.Kind)
	}
	if principal.UserID != env.user.ID {
		t.Errorf("user id = %q, want %q", principal.UserID, env.user.ID)
	}
	if principal.TokenID != issued.Token.ID {
		t.Errorf("token id = %q, want %q", principal.TokenID, issued.Token.ID)
	}

	if got := env.usageCount(t, issued.Token.ID); got != 1 {
		t.Errorf("usage count = %d, want 1", got)
	}
	tok, _ := env.store.GetToken(context.Background(), issued.Token.ID)
	if tok.LastUsedIP == nil || *tok.LastUsedIP != "203.0.113.7" {
		t.Errorf("last_used_ip = %v", tok.LastUsedIP)
	}
}

func TestValidate_UnknownSecret(t *testing.T) {
	env := newSvcEnv(t)
	env.issue(t, IssueParams{})

	_, err := env.validator.Validate(context.Background(), "ko_completelymadeup", nil, nil, "")
	assertAccessCode(t, err, CodeInvalidToken)
}

func TestValidate_HashMismatch(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	// Force a record whose digest matches a presented secret but whose hash
	// does not: overwrite the stored hash with one for a different secret.
	tok, presented := env.issueRaw(t, nil)
	other, err := env.codec.Issue()
	if err != nil {
		t.Fatalf("codec.Issue: %v", err)
	}
	if err := env.store.ReplaceTokenSecret(ctx, tok.ID, other.Hash, env.codec.LookupDigest(presented), other.Preview); err != nil {
		t.Fatalf("ReplaceTokenSecret: %v", err)
	}

	_, err = env.validator.Validate(ctx, presented, nil, nil, "")
	assertAccessCode(t, err, CodeInvalidToken)

	if got := env.usageCount(t, tok.ID); got != 0 {
		t.Errorf("usage count = %d after failed validation, want 0", got)
	}
}

func TestValidate_RevokedToken(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()
	issued := env.issue(t, IssueParams{})

	if err := env.lifecycle.Revoke(ctx, env.user.ID, issued.Token.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	// A revoked token's digest is out of the candidate status set, so there
	// is nothing to distinguish it from an unknown secret.
	_, err := env.validator.Validate(ctx, issued.Secret, nil, nil, "")
	assertAccessCode(t, err, CodeInvalidToken)
}

func TestValidate_ExpiredStatus(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()
	tok, presented := env.issueRaw(t, nil)

	if err := env.store.MarkTokenExpired(ctx, tok.ID); err != nil {
		t.Fatalf("MarkTokenExpired: %v", err)
	}

	_, err := env.validator.Validate(ctx, presented, nil, nil, "")
	assertAccessCode(t, err, CodeTokenInactive)
	ae, _ := AsAccessError(err)
	if ae.Status != model.StatusExpired {
		t.Errorf("status = %q, want expired", ae.Status)
	}
}

func TestValidate_LazyExpiry(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	tok, presented := env.issueRaw(t, func(m *model.Token) { m.ExpiresAt = &past })

	// First presentation catches the stale record and transitions it.
	_, err := env.validator.Validate(ctx, presented, nil, nil, "")
	assertAccessCode(t, err, CodeTokenExpired)

	stored, err := env.store.GetToken(ctx, tok.ID)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if stored.Status != model.StatusExpired {
		t.Errorf("status = %q, want expired after lazy transition", stored.Status)
	}

	// Subsequent presentations see the terminal state.
	_, err = env.validator.Validate(ctx, presented, nil, nil, "")
	assertAccessCode(t, err, CodeTokenInactive)
}

func TestValidate_IPAllowList(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()
	issued := env.issue(t, IssueParams{
		IPAllowList: []string{"203.0.113.0/24", "198.51.100.9"},
	})

	if _, err := env.validator.Validate(ctx, issued.Secret, nil, nil, "203.0.113.200"); err != nil {
		t.Errorf("CIDR member rejected: %v", err)
	}
	if _, err := env.validator.Validate(ctx, issued.Secret, nil, nil, "198.51.100.9"); err != nil {
		t.Errorf("exact entry rejected: %v", err)
	}

	_, err := env.validator.Validate(ctx, issued.Secret, nil, nil, "192.0.2.1")
	assertAccessCode(t, err, CodeIPRestricted)

	// A restricted token with no detectable client IP never passes.
	_, err = env.validator.Validate(ctx, issued.Secret, nil, nil, "")
	assertAccessCode(t, err, CodeIPRestricted)

	if got := env.usageCount(t, issued.Token.ID); got != 2 {
		t.Errorf("usage count = %d, want 2 (denied requests must not count)", got)
	}
}

func TestValidate_Permissions(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()
	issued := env.issue(t, IssueParams{Permissions: []string{"key:read"}})

	_, err := env.validator.Validate(ctx, issued.Secret, []string{"key:read", "key:write"}, nil, "")
	assertAccessCode(t, err, CodeInsufficientPermissions)

	if _, err := env.validator.Validate(ctx, issued.Secret, []string{"key:read"}, nil, ""); err != nil {
		t.Errorf("sufficient permissions rejected: %v", err)
	}
}

func TestValidate_Scopes(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()
	issued := env.issue(t, IssueParams{
		Permissions: []string{"key:read"},
		Scopes:      []string{"deploy"},
	})

	_, err := env.validator.Validate(ctx, issued.Secret, nil, []string{"admin"}, "")
	assertAccessCode(t, err, CodeInsufficientScopes)
}

func TestValidate_ConcurrentUsageAccounting(t *testing.T) {
	env := newSvcEnv(t)
	issued := env.issue(t, IssueParams{})

	const n = 20
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.validator.Validate(context.Background(), issued.Secret, nil, nil, "")
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
	}

	if got := env.usageCount(t, issued.Token.ID); got != n {
		t.Errorf("usage count = %d, want %d", got, n)
	}
}

func TestValidate_CancelledContext(t *testing.T) {
	env := newSvcEnv(t)
	issued := env.issue(t, IssueParams{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.validator.Validate(ctx, issued.Secret, nil, nil, "")
	if err == nil {
		t.Fatal("validation succeeded with cancelled context")
	}
	if _, ok := AsAccessError(err); ok {
		t.Errorf("cancellation surfaced as access error: %v", err)
	}
}
