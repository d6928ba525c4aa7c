// Package store persists KeyOrbit's token and user records in SQLite. It is
// the single keyed collection behind the token lifecycle: every mutation the
// validator or sweeper needs is expressed as one conditional UPDATE so that
// concurrent callers cannot produce lost updates or illegal state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
)

// Store manages KeyOrbit's persistent state backed by SQLite.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "keyorbit.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Token records
// ---------------------------------------------------------------------------

// tokenRow is a flat struct that maps 1:1 to the api_tokens table columns.
// Permissions, scopes, and the IP allow-list are stored as JSON arrays.
type tokenRow struct {
	ID           string     `db:"id"`
	UserID       string     `db:"user_id"`
	Name         string     `db:"name"`
	Description  string     `db:"description"`
	SecretHash   string     `db:"secret_hash"`
	LookupDigest string     `db:"lookup_digest"`
	Preview      string     `db:"token_preview"`
	Permissions  string     `db:"permissions_json"`
	Scopes       string     `db:"scopes_json"`
	Status       string     `db:"status"`
	RateLimit    int        `db:"rate_limit"`
	IPAllowList  string     `db:"ip_allow_json"`
	ExpiresAt    *time.Time `db:"expires_at"`
	UsageCount   int64      `db:"usage_count"`
	LastUsedAt   *time.Time `db:"last_used_at"`
	LastUsedIP   *string    `db:"last_used_ip"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func tokenRowFromModel(t *model.Token) (tokenRow, error) {
	perms, err := json.Marshal(emptyIfNil(t.Permissions))
	if err != nil {
		return tokenRow{}, fmt.Errorf("marshal permissions: %w", err)
	}
	scopes, err := json.Marshal(emptyIfNil(t.Scopes))
	if err != nil {
		return tokenRow{}, fmt.Errorf("marshal scopes: %w", err)
	}
	ips, err := json.Marshal(emptyIfNil(t.IPAllowList))
	if err != nil {
		return tokenRow{}, fmt.Errorf("marshal ip allow list: %w", err)
	}
	return tokenRow{
		ID:           t.ID,
		UserID:       t.UserID,
		Name:         t.Name,
		Description:  t.Description,
		SecretHash:   t.SecretHash,
		LookupDigest: t.LookupDigest,
		Preview:      t.Preview,
		Permissions:  string(perms),
		Scopes:       string(scopes),
		Status:       string(t.Status),
		RateLimit:    t.RateLimit,
		IPAllowList:  string(ips),
		ExpiresAt:    t.ExpiresAt,
		UsageCount:   t.UsageCount,
		LastUsedAt:   t.LastUsedAt,
		LastUsedIP:   t.LastUsedIP,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}, nil
}

func (r tokenRow) toModel() (model.Token, error) {
	var perms, scopes, ips []string
	if err := json.Unmarshal([]byte(r.Permissions), &perms); err != nil {
		return model.Token{}, fmt.Errorf("unmarshal permissions: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Scopes), &scopes); err != nil {
		return model.Token{}, fmt.Errorf("unmarshal scopes: %w", err)
	}
	if err := json.Unmarshal([]byte(r.IPAllowList), &ips); err != nil {
		return model.Token{}, fmt.Errorf("unmarshal ip allow list: %w", err)
	}
	return model.Token{
		ID:           r.ID,
		UserID:       r.UserID,
		Name:         r.Name,
		Description:  r.Description,
		SecretHash:   r.SecretHash,
		LookupDigest: r.LookupDigest,
		Preview:      r.Preview,
		Permissions:  perms,
		Scopes:       scopes,
		Status:       model.TokenStatus(r.Status),
		RateLimit:    r.RateLimit,
		IPAllowList:  ips,
		ExpiresAt:    r.ExpiresAt,
		UsageCount:   r.UsageCount,
		LastUsedAt:   r.LastUsedAt,
		LastUsedIP:   r.LastUsedIP,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// CreateToken inserts a new token record. The CreatedAt and UpdatedAt fields
// on t are populated after a successful insert; all timestamps are UTC.
func (s *Store) CreateToken(ctx context.Context, t *model.Token) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	row, err := tokenRowFromModel(t)
	if err != nil {
		return err
	}

	const q = `INSERT INTO api_tokens
		(id, user_id, name, description, secret_hash, lookup_digest, token_preview,
		 permissions_json, scopes_json, status, rate_limit, ip_allow_json, expires_at,
		 usage_count, last_used_at, last_used_ip, created_at, updated_at)
		VALUES
		(:id, :user_id, :name, :description, :secret_hash, :lookup_digest, :token_preview,
		 :permissions_json, :scopes_json, :status, :rate_limit, :ip_allow_json, :expires_at,
		 :usage_count, :last_used_at, :last_used_ip, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetToken returns a token by ID.
func (s *Store) GetToken(ctx context.Context, id string) (*model.Token, error) {
	var row tokenRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM api_tokens WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	t, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTokenForOwner returns a token by ID scoped to its owning user. A token
// belonging to a different user is reported as ErrNotFound, not as a
// permission error, so ownership cannot be probed.
func (s *Store) GetTokenForOwner(ctx context.Context, userID, id string) (*model.Token, error) {
	var row tokenRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM api_tokens WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token for owner: %w", err)
	}
	t, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTokensByOwner returns all tokens for a user, newest first. Revoked
// tokens are excluded unless includeRevoked is set.
func (s *Store) ListTokensByOwner(ctx context.Context, userID string, includeRevoked bool) ([]model.Token, error) {
	q := "SELECT * FROM api_tokens WHERE user_id = ?"
	if !includeRevoked {
		q += " AND status != 'revoked'"
	}
	q += " ORDER BY created_at DESC"

	var rows []tokenRow
	if err := s.db.SelectContext(ctx, &rows, q, userID); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	tokens := make([]model.Token, 0, len(rows))
	for _, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// GetTokenByDigest looks up a token by its lookup digest, restricted to the
// given status set. This is the validator's O(1) candidate fetch.
func (s *Store) GetTokenByDigest(ctx context.Context, digest string, statuses []model.TokenStatus) (*model.Token, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	q, args, err := sqlx.In(
		"SELECT * FROM api_tokens WHERE lookup_digest = ? AND status IN (?)", digest, names)
	if err != nil {
		return nil, fmt.Errorf("build digest query: %w", err)
	}

	var row tokenRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(q), args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get token by digest: %w", err)
	}
	t, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkTokenExpired transitions a token from active to expired. The guard on
// the current status makes the operation idempotent: a concurrent request
// path and sweeper racing on the same record produce the same final state,
// and zero rows affected is not an error.
func (s *Store) MarkTokenExpired(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		"UPDATE api_tokens SET status = 'expired', updated_at = ? WHERE id = ? AND status = 'active'",
		now, id)
	if err != nil {
		return fmt.Errorf("mark token expired: %w", err)
	}
	return nil
}

// RevokeToken transitions a token from active to revoked.
func (s *Store) RevokeToken(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_tokens SET status = 'revoked', updated_at = ? WHERE id = ? AND status = 'active'",
		now, id)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke token rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceTokenSecret swaps in a fresh secret hash, lookup digest, and preview
// in one statement, resetting the usage fields. Hash and preview always
// change together; no record ever holds a preview from a previous secret.
func (s *Store) ReplaceTokenSecret(ctx context.Context, id, hash, digest, preview string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens
		 SET secret_hash = ?, lookup_digest = ?, token_preview = ?,
		     usage_count = 0, last_used_at = NULL, last_used_ip = NULL, updated_at = ?
		 WHERE id = ?`,
		hash, digest, preview, now, id)
	if err != nil {
		return fmt.Errorf("replace token secret: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace token secret rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTokenPermissions replaces the permission set and, when scopes is
// non-nil, the scope set.
func (s *Store) UpdateTokenPermissions(ctx context.Context, id string, permissions []string, scopes []string) error {
	now := time.Now().UTC()
	perms, err := json.Marshal(emptyIfNil(permissions))
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}

	var result sql.Result
	if scopes != nil {
		sc, err := json.Marshal(scopes)
		if err != nil {
			return fmt.Errorf("marshal scopes: %w", err)
		}
		result, err = s.db.ExecContext(ctx,
			"UPDATE api_tokens SET permissions_json = ?, scopes_json = ?, updated_at = ? WHERE id = ?",
			string(perms), string(sc), now, id)
		if err != nil {
			return fmt.Errorf("update token permissions: %w", err)
		}
	} else {
		result, err = s.db.ExecContext(ctx,
			"UPDATE api_tokens SET permissions_json = ?, updated_at = ? WHERE id = ?",
			string(perms), now, id)
		if err != nil {
			return fmt.Errorf("update token permissions: %w", err)
		}
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update token permissions rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MetadataUpdate carries the mutable token fields for UpdateTokenMetadata.
// Nil pointers leave the corresponding column untouched.
type MetadataUpdate struct {
	Name        *string
	Description *string
	RateLimit   *int
	ExpiresAt   *time.Time
	IPAllowList []string
}

// UpdateTokenMetadata applies a partial update of the mutable metadata fields.
func (s *Store) UpdateTokenMetadata(ctx context.Context, id string, upd MetadataUpdate) error {
	set := "updated_at = ?"
	args := []interface{}{time.Now().UTC()}

	if upd.Name != nil {
		set += ", name = ?"
		args = append(args, *upd.Name)
	}
	if upd.Description != nil {
		set += ", description = ?"
		args = append(args, *upd.Description)
	}
	if upd.RateLimit != nil {
		set += ", rate_limit = ?"
		args = append(args, *upd.RateLimit)
	}
	if upd.ExpiresAt != nil {
		set += ", expires_at = ?"
		args = append(args, *upd.ExpiresAt)
	}
	if upd.IPAllowList != nil {
		ips, err := json.Marshal(upd.IPAllowList)
		if err != nil {
			return fmt.Errorf("marshal ip allow list: %w", err)
		}
		set += ", ip_allow_json = ?"
		args = append(args, string(ips))
	}

	args = append(args, id)
	result, err := s.db.ExecContext(ctx, "UPDATE api_tokens SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update token metadata: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update token metadata rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordTokenUsage bumps the usage counter and last-used fields in a single
// atomic UPDATE. The increment happens in SQL, never as read-modify-write in
// application code, so N concurrent validations add exactly N.
func (s *Store) RecordTokenUsage(ctx context.Context, id, clientIP string) error {
	now := time.Now().UTC()
	var err error
	if clientIP != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE api_tokens
			 SET usage_count = usage_count + 1, last_used_at = ?, last_used_ip = ?, updated_at = ?
			 WHERE id = ?`,
			now, clientIP, now, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE api_tokens
			 SET usage_count = usage_count + 1, last_used_at = ?, updated_at = ?
			 WHERE id = ?`,
			now, now, id)
	}
	if err != nil {
		return fmt.Errorf("record token usage: %w", err)
	}
	return nil
}

// SweepExpired transitions every active token whose expiry has passed to
// expired, in one idempotent set-update, and returns how many changed.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET status = 'expired', updated_at = ?
		 WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < ?`,
		now.UTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep expired tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired rows affected: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user account. The CreatedAt and UpdatedAt fields
// are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	const q = `INSERT INTO users (id, email, password_hash, name, is_active, created_at, updated_at)
		VALUES (:id, :email, :password_hash, :name, :is_active, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, u); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE email = ?", email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// HasAnyUser reports whether at least one user account exists. Used for
// first-run detection.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// UpdateUserLastLogin sets the last_login_at timestamp for a user.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?", now, now, id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user last login rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
