package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/policy"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/secret"
	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/store"
)

// DefaultMaxInFlight caps how many validations may run bcrypt concurrently
// when no explicit limit is configured.
const DefaultMaxInFlight = 16

// Validator evaluates presented token secrets: identity, status, expiry,
// IP allow-list, and permission/scope requirements. Lookup is two-stage:
// an HMAC digest locates the single candidate record in O(1), then the
// bcrypt hash confirms it. Safe for arbitrary concurrent use.
type Validator struct {
	store  *store.Store
	codec  *secret.Codec
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewValidator creates a Validator. maxInFlight bounds the number of
// concurrent slow-hash verifications; a burst of invalid-token probes queues
// behind the semaphore instead of exhausting CPU.
func NewValidator(st *store.Store, codec *secret.Codec, maxInFlight int64, logger *slog.Logger) *Validator {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Validator{
		store:  st,
		codec:  codec,
		sem:    semaphore.NewWeighted(maxInFlight),
		logger: logger,
	}
}

// Validate checks a presented secret and the caller's requirements, returning
// the principal context on success. On success the token's usage counter and
// last-used fields are updated atomically; on any failure they are not.
// Cancellation of ctx aborts both the semaphore wait and the store calls.
func (v *Validator) Validate(ctx context.Context, presented string, requiredPerms, requiredScopes []string, clientIP string) (*model.Principal, error) {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer v.sem.Release(1)

	// Expired candidates are still located so their failure surfaces as
	// TOKEN_EXPIRED or TOKEN_INACTIVE rather than the generic invalid-token
	// error a matching credential should never receive.
	digest := v.codec.LookupDigest(presented)
	tok, err := v.store.GetTokenByDigest(ctx, digest, []model.TokenStatus{model.StatusActive, model.StatusExpired})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errInvalidToken()
		}
		return nil, err
	}

	if !v.codec.Verify(presented, tok.SecretHash) {
		// Digest collision or stale record; treat exactly like no match.
		return nil, errInvalidToken()
	}

	if tok.Status != model.StatusActive {
		return nil, errTokenInactive(tok.Status)
	}

	if tok.Expired(time.Now().UTC()) {
		if err := v.store.MarkTokenExpired(ctx, tok.ID); err != nil {
			v.logger.Error("lazy expiry transition failed", "token_id", tok.ID, "error", err)
		}
		return nil, errTokenExpired()
	}

	if len(tok.IPAllowList) > 0 {
		if clientIP == "" || !policy.IPAllowed(clientIP, tok.IPAllowList) {
			return nil, errIPRestricted(clientIP)
		}
	}

	if missing, ok := policy.Satisfied(tok.Permissions, requiredPerms); !ok {
		return nil, errInsufficientPermission(missing)
	}
	if missing, ok := policy.Satisfied(tok.Scopes, requiredScopes); !ok {
		return nil, errInsufficientScope(missing)
	}

	if err := v.store.RecordTokenUsage(ctx, tok.ID, clientIP); err != nil {
		return nil, err
	}

	return &model.Principal{
		Kind:        model.PrincipalAPIToken,
		UserID:      tok.UserID,
		TokenID:     tok.ID,
		TokenName:   tok.Name,
		Permissions: tok.Permissions,
		Scopes:      tok.Scopes,
		RateLimit:   tok.RateLimit,
	}, nil
}
