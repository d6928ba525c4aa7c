package model

import (
	"testing"
	"time"
)

func TestTokenStatusTerminal(t *testing.T) {
	if StatusActive.Terminal() {
		t.Error("active must not be terminal")
	}
	if !StatusExpired.Terminal() {
		t.Error("expired must be terminal")
	}
	if !StatusRevoked.Terminal() {
		t.Error("revoked must be terminal")
	}
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry never expires", nil, false},
		{"future expiry", &future, false},
		{"past expiry", &past, true},
		{"exact boundary is not yet expired", &now, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := Token{ExpiresAt: tt.expiresAt, Status: StatusActive}
			if got := tok.Expired(now); got != tt.want {
				t.Errorf("Expired = %v, want %v", got, tt.want)
			}
		})
	}
}
