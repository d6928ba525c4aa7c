package model

import "time"

// User is an account that owns API tokens and can open sessions. Registration
// and verification flows live outside this service; only the fields needed to
// authenticate and attribute tokens are kept here.
type User struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Name         string     `json:"name" db:"name"`
	IsActive     bool       `json:"is_active" db:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Session is the server-side record backing a JWT session credential. A JWT
// whose session record is gone (logged out or expired) fails verification
// even when its signature is still valid.
type Session struct {
	ID        string    `json:"id"` // JWT jti claim
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
