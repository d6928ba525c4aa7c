// Package secret generates and verifies API token secrets.
//
// A secret is stored as two derived values: a bcrypt hash, which is what
// validation ultimately trusts, and an HMAC-SHA256 lookup digest under a
// server-side key, which gives the store an O(1) index without ever
// persisting the raw secret. A short prefix of the secret is kept as a
// non-secret preview for listings.
package secret

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/hashicorp/go-secure-stdlib/base62"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Prefix marks KeyOrbit API tokens so they are recognizable in configs
	// and leak scanners.
	Prefix = "ko_"

	// secretLen is the number of base62 characters in the random part.
	// 43 characters carry just over 256 bits of entropy.
	secretLen = 43

	// PreviewLen is the number of leading characters retained as the
	// human-readable preview.
	PreviewLen = 12
)

// Issued is the one-time result of generating a token secret. Secret is
// returned to the caller exactly once and never persisted.
type Issued struct {
	Secret  string
	Hash    string
	Digest  string
	Preview string
}

// Codec derives storage-safe values from raw token secrets. It is safe for
// concurrent use.
type Codec struct {
	lookupKey []byte
	cost      int
}

// NewCodec creates a Codec. lookupKey is the server-side HMAC key for the
// O(1) store index; cost is the bcrypt cost factor (0 selects the bcrypt
// default).
func NewCodec(lookupKey []byte, cost int) *Codec {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Codec{lookupKey: lookupKey, cost: cost}
}

// Issue generates a fresh secret and its derived values. Generation failure
// means the system's randomness source is unavailable and is not recoverable.
func (c *Codec) Issue() (Issued, error) {
	random, err := base62.Random(secretLen)
	if err != nil {
		return Issued{}, fmt.Errorf("generate token secret: %w", err)
	}
	s := Prefix + random

	hash, err := bcrypt.GenerateFromPassword([]byte(s), c.cost)
	if err != nil {
		return Issued{}, fmt.Errorf("hash token secret: %w", err)
	}

	return Issued{
		Secret:  s,
		Hash:    string(hash),
		Digest:  c.LookupDigest(s),
		Preview: s[:PreviewLen],
	}, nil
}

// Verify reports whether secret matches the stored bcrypt hash. Comparison
// goes through bcrypt's own verification routine, never string equality.
func (c *Codec) Verify(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// LookupDigest returns the hex-encoded HMAC-SHA256 of secret under the
// server key. Deterministic, so the store can index by it; useless to an
// attacker who obtains the store but not the key.
func (c *Codec) LookupDigest(secret string) string {
	mac := hmac.New(sha256.New, c.lookupKey)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}
