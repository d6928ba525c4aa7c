package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/policy"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/secret"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/store"
)

// Lifecycle owns token issuance, revocation, regeneration, and mutation,
// enforcing the status state machine: active is the only initial state,
// expired and revoked are terminal.
type Lifecycle struct {
	store  *store.Store
	codec  *secret.Codec
	logger *slog.Logger
}

// NewLifecycle creates a Lifecycle manager.
func NewLifecycle(st *store.Store, codec *secret.Codec, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{store: st, codec: codec, logger: logger}
}

// IssueParams are the caller-supplied fields for a new token.
type IssueParams struct {
	Name        string
	Description string
	Permissions []string
	Scopes      []string
	IPAllowList []string
	RateLimit   int        // 0 selects the default
	ExpiresAt   *time.Time // nil selects now+90d
}

// IssuedToken pairs a persisted token record with its raw secret. The secret
// appears here exactly once; no other operation can recover it.
type IssuedToken struct {
	Token  model.Token
	Secret string
}

// Issue validates params, generates a secret, and persists a new active
// token owned by userID.
func (m *Lifecycle) Issue(ctx context.Context, userID string, p IssueParams) (*IssuedToken, error) {
	if p.Name == "" {
		return nil, &FieldError{Field: "name", Message: "name is required"}
	}
	if err := policy.ValidatePermissions(p.Permissions); err != nil {
		return nil, &FieldError{Field: "permissions", Message: err.Error()}
	}
	if err := policy.ValidateAllowList(p.IPAllowList); err != nil {
		return nil, &FieldError{Field: "ip_allow_list", Message: err.Error()}
	}

	rateLimit := p.RateLimit
	if rateLimit == 0 {
		rateLimit = model.RateLimitDefault
	}
	if rateLimit < model.RateLimitMin || rateLimit > model.RateLimitMax {
		return nil, &FieldError{
			Field:   "rate_limit",
			Message: fmt.Sprintf("rate limit must be between %d and %d", model.RateLimitMin, model.RateLimitMax),
		}
	}

	now := time.Now().UTC()
	expiresAt := p.ExpiresAt
	if expiresAt == nil {
		def := now.Add(model.DefaultExpiry)
		expiresAt = &def
	} else {
		utc := expiresAt.UTC()
		expiresAt = &utc
		if !expiresAt.After(now) {
			return nil, &FieldError{Field: "expires_at", Message: "expiration date must be in the future"}
		}
	}

	issued, err := m.codec.Issue()
	if err != nil {
		return nil, err
	}

	tok := model.Token{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		Name:         p.Name,
		Description:  p.Description,
		SecretHash:   issued.Hash,
		LookupDigest: issued.Digest,
		Preview:      issued.Preview,
		Permissions:  p.Permissions,
		Scopes:       p.Scopes,
		Status:       model.StatusActive,
		RateLimit:    rateLimit,
		IPAllowList:  p.IPAllowList,
		ExpiresAt:    expiresAt,
	}

	if err := m.store.CreateToken(ctx, &tok); err != nil {
		return nil, err
	}

	m.logger.Info("token issued", "token_id", tok.ID, "user_id", userID, "preview", tok.Preview)
	return &IssuedToken{Token: tok, Secret: issued.Secret}, nil
}

// Get returns a token owned by userID, applying the lazy active→expired
// transition so a stale record is never presented as active.
func (m *Lifecycle) Get(ctx context.Context, userID, tokenID string) (*model.Token, error) {
	tok, err := m.store.GetTokenForOwner(ctx, userID, tokenID)
	if err != nil {
		return nil, err
	}
	m.lazyExpire(ctx, tok)
	return tok, nil
}

// List returns the user's tokens, newest first, revoked excluded unless
// includeRevoked. The lazy expiry transition applies to each entry.
func (m *Lifecycle) List(ctx context.Context, userID string, includeRevoked bool) ([]model.Token, error) {
	tokens, err := m.store.ListTokensByOwner(ctx, userID, includeRevoked)
	if err != nil {
		return nil, err
	}
	for i := range tokens {
		m.lazyExpire(ctx, &tokens[i])
	}
	return tokens, nil
}

func (m *Lifecycle) lazyExpire(ctx context.Context, tok *model.Token) {
	if tok.Status != model.StatusActive || !tok.Expired(time.Now().UTC()) {
		return
	}
	if err := m.store.MarkTokenExpired(ctx, tok.ID); err != nil {
		m.logger.Error("lazy expiry transition failed", "token_id", tok.ID, "error", err)
		return
	}
	tok.Status = model.StatusExpired
}

// Revoke transitions an active token to revoked. Revoking an already revoked
// token succeeds without effect; revoking an expired token fails, since
// expired is terminal. Tokens of other users surface as store.ErrNotFound.
func (m *Lifecycle) Revoke(ctx context.Context, userID, tokenID string) error {
	tok, err := m.store.GetTokenForOwner(ctx, userID, tokenID)
	if err != nil {
		return err
	}

	switch tok.Status {
	case model.StatusRevoked:
		return nil
	case model.StatusExpired:
		return &FieldError{Field: "status", Message: "cannot revoke expired token"}
	}

	if err := m.store.RevokeToken(ctx, tokenID); err != nil {
		// Lost a race with the sweeper or another revoke; the record is in
		// a terminal state either way.
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}

	m.logger.Info("token revoked", "token_id", tokenID, "user_id", userID)
	return nil
}

// Regenerate replaces an active token's secret with a fresh one, resetting
// usage bookkeeping while retaining identity, permissions, scopes, allow
// list, and expiry. The old secret stops validating immediately.
func (m *Lifecycle) Regenerate(ctx context.Context, userID, tokenID string) (*IssuedToken, error) {
	tok, err := m.store.GetTokenForOwner(ctx, userID, tokenID)
	if err != nil {
		return nil, err
	}
	m.lazyExpire(ctx, tok)

	if tok.Status != model.StatusActive {
		return nil, &FieldError{
			Field:   "status",
			Message: fmt.Sprintf("cannot regenerate %s token", tok.Status),
		}
	}

	issued, err := m.codec.Issue()
	if err != nil {
		return nil, err
	}

	if err := m.store.ReplaceTokenSecret(ctx, tokenID, issued.Hash, issued.Digest, issued.Preview); err != nil {
		return nil, err
	}

	tok.SecretHash = issued.Hash
	tok.LookupDigest = issued.Digest
	tok.Preview = issued.Preview
	tok.UsageCount = 0
	tok.LastUsedAt = nil
	tok.LastUsedIP = nil

	m.logger.Info("token regenerated", "token_id", tokenID, "user_id", userID, "preview", tok.Preview)
	return &IssuedToken{Token: *tok, Secret: issued.Secret}, nil
}

// UpdatePermissions replaces an active token's permission set and, when
// scopes is non-nil, its scope set. The new permissions are validated
// against the closed vocabulary before anything is written.
func (m *Lifecycle) UpdatePermissions(ctx context.Context, userID, tokenID string, permissions, scopes []string) error {
	tok, err := m.store.GetTokenForOwner(ctx, userID, tokenID)
	if err != nil {
		return err
	}
	m.lazyExpire(ctx, tok)

	if tok.Status != model.StatusActive {
		return &FieldError{
			Field:   "status",
			Message: fmt.Sprintf("cannot update %s token", tok.Status),
		}
	}
	if err := policy.ValidatePermissions(permissions); err != nil {
		return &FieldError{Field: "permissions", Message: err.Error()}
	}

	return m.store.UpdateTokenPermissions(ctx, tokenID, permissions, scopes)
}

// MetadataParams carries a partial update of a token's mutable metadata.
// Nil fields are left untouched.
type MetadataParams struct {
	Name        *string
	Description *string
	RateLimit   *int
	ExpiresAt   *time.Time
	IPAllowList []string
}

// UpdateMetadata applies a partial metadata update to an active token.
// Rate limit bounds, expiry, and IP grammar are re-validated on every write.
func (m *Lifecycle) UpdateMetadata(ctx context.Context, userID, tokenID string, p MetadataParams) error {
	tok, err := m.store.GetTokenForOwner(ctx, userID, tokenID)
	if err != nil {
		return err
	}
	m.lazyExpire(ctx, tok)

	if tok.Status != model.StatusActive {
		return &FieldError{
			Field:   "status",
			Message: fmt.Sprintf("cannot update %s token", tok.Status),
		}
	}

	if p.RateLimit != nil && (*p.RateLimit < model.RateLimitMin || *p.RateLimit > model.RateLimitMax) {
		return &FieldError{
			Field:   "rate_limit",
			Message: fmt.Sprintf("rate limit must be between %d and %d", model.RateLimitMin, model.RateLimitMax),
		}
	}
	var expiresAt *time.Time
	if p.ExpiresAt != nil {
		utc := p.ExpiresAt.UTC()
		if !utc.After(time.Now().UTC()) {
			return &FieldError{Field: "expires_at", Message: "expiration date must be in the future"}
		}
		expiresAt = &utc
	}
	if p.IPAllowList != nil {
		if err := policy.ValidateAllowList(p.IPAllowList); err != nil {
			return &FieldError{Field: "ip_allow_list", Message: err.Error()}
		}
	}

	return m.store.UpdateTokenMetadata(ctx, tokenID, store.MetadataUpdate{
		Name:        p.Name,
		Description: p.Description,
		RateLimit:   p.RateLimit,
		ExpiresAt:   expiresAt,
		IPAllowList: p.IPAllowList,
	})
}

// Stats aggregates the user's tokens, revoked included.
func (m *Lifecycle) Stats(ctx context.Context, userID string) (*model.TokenStats, error) {
	tokens, err := m.store.ListTokensByOwner(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	soon := now.Add(7 * 24 * time.Hour)
	dayAgo := now.Add(-24 * time.Hour)

	stats := &model.TokenStats{Total: len(tokens)}
	for i := range tokens {
		tok := &tokens[i]
		m.lazyExpire(ctx, tok)

		switch tok.Status {
		case model.StatusActive:
			stats.Active++
		case model.StatusExpired:
			stats.Expired++
		case model.StatusRevoked:
			stats.Revoked++
		}

		if len(tok.IPAllowList) > 0 {
			stats.WithIPRestrictions++
		}
		if tok.ExpiresAt == nil {
			stats.WithoutExpiry++
		} else if tok.Status == model.StatusActive && tok.ExpiresAt.After(now) && tok.ExpiresAt.Before(soon) {
			stats.ExpiringSoon++
		}
		if tok.LastUsedAt != nil && tok.LastUsedAt.After(dayAgo) {
			stats.RecentlyUsed++
		}
		stats.TotalAPICalls += tok.UsageCount
	}
	return stats, nil
}
