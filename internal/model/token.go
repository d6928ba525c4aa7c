package model

import "time"

// TokenStatus is the lifecycle state of an API token. Transitions are
// one-directional: active → expired and active → revoked. Expired and
// revoked are terminal.
type TokenStatus string

const (
	StatusActive  TokenStatus = "active"
	StatusExpired TokenStatus = "expired"
	StatusRevoked TokenStatus = "revoked"
)

// Terminal reports whether the status admits no further transitions.
func (s TokenStatus) Terminal() bool {
	return s == StatusExpired || s == StatusRevoked
}

// Permissions is the closed vocabulary of permission strings a token may
// carry. Permission sets are validated against it at write time.
var Permissions = map[string]bool{
	"key:read":     true,
	"key:write":    true,
	"key:delete":   true,
	"key:rotate":   true,
	"audit:read":   true,
	"admin:all":    true,
	"user:read":    true,
	"user:write":   true,
	"policy:read":  true,
	"policy:write": true,
	"token:read":   true,
	"token:write":  true,
}

// Rate limit bounds accepted on token create and update. The stored value is
// advisory; enforcement happens outside this service.
const (
	RateLimitMin     = 1
	RateLimitMax     = 10000
	RateLimitDefault = 1000
)

// DefaultExpiry is applied when a token is issued without an explicit
// expiration timestamp.
const DefaultExpiry = 90 * 24 * time.Hour

// Token is a long-lived bearer credential record. The raw secret exists only
// in the issuance response; only its bcrypt hash and a keyed lookup digest
// are persisted, plus a short non-secret preview for listings.
type Token struct {
	ID           string      `json:"id" db:"id"`
	UserID       string      `json:"user_id" db:"user_id"`
	Name         string      `json:"name" db:"name"`
	Description  string      `json:"description" db:"description"`
	SecretHash   string      `json:"-" db:"secret_hash"`   // bcrypt, never expose
	LookupDigest string      `json:"-" db:"lookup_digest"` // HMAC-SHA256, never expose
	Preview      string      `json:"token_preview" db:"token_preview"`
	Permissions  []string    `json:"permissions" db:"-"`
	Scopes       []string    `json:"scopes" db:"-"`
	Status       TokenStatus `json:"status" db:"status"`
	RateLimit    int         `json:"rate_limit" db:"rate_limit"`
	IPAllowList  []string    `json:"ip_allow_list" db:"-"`
	ExpiresAt    *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
	UsageCount   int64       `json:"usage_count" db:"usage_count"`
	LastUsedAt   *time.Time  `json:"last_used_at,omitempty" db:"last_used_at"`
	LastUsedIP   *string     `json:"last_used_ip,omitempty" db:"last_used_ip"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the token's expiry has passed at the given instant.
// Tokens without an expiry never expire.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

// Principal is the uniform authorization context produced by a successful
// authentication, whether it came from an API token or a session credential.
type Principal struct {
	Kind        PrincipalKind `json:"kind"`
	UserID      string        `json:"user_id"`
	TokenID     string        `json:"token_id,omitempty"`
	TokenName   string        `json:"token_name,omitempty"`
	Permissions []string      `json:"permissions,omitempty"`
	Scopes      []string      `json:"scopes,omitempty"`
	RateLimit   int           `json:"rate_limit,omitempty"`
}

// PrincipalKind distinguishes the credential type behind a Principal.
type PrincipalKind string

const (
	PrincipalAPIToken PrincipalKind = "api_token"
	PrincipalSession  PrincipalKind = "session"
)

// TokenStats aggregates a user's tokens for the stats endpoint.
type TokenStats struct {
	Total              int   `json:"total"`
	Active             int   `json:"active"`
	Expired            int   `json:"expired"`
	Revoked            int   `json:"revoked"`
	ExpiringSoon       int   `json:"expiring_soon"`
	RecentlyUsed       int   `json:"recently_used"`
	TotalAPICalls      int64 `json:"total_api_calls"`
	WithIPRestrictions int   `json:"with_ip_restrictions"`
	WithoutExpiry      int   `json:"without_expiry"`
}
