package policy

import (
	"testing"
)

func TestIPAllowed(t *testing.T) {
	tests := []struct {
		name      string
		clientIP  string
		allowList []string
		want      bool
	}{
		{"empty list allows any IP", "198.51.100.1", nil, true},
		{"empty list allows missing IP", "", nil, true},
		{"missing IP with non-empty list", "", []string{"192.168.1.1"}, false},
		{"exact match", "192.168.1.1", []string{"192.168.1.1"}, true},
		{"exact mismatch", "192.168.1.2", []string{"192.168.1.1"}, false},
		{"cidr contains", "203.0.113.7", []string{"203.0.113.0/24"}, true},
		{"cidr excludes", "203.0.114.7", []string{"203.0.113.0/24"}, false},
		{"cidr boundary low", "203.0.113.0", []string{"203.0.113.0/24"}, true},
		{"cidr boundary high", "203.0.113.255", []string{"203.0.113.0/24"}, true},
		{"second entry matches", "10.0.0.5", []string{"192.168.1.1", "10.0.0.0/8"}, true},
		{"unparseable client IP against cidr", "not-an-ip", []string{"10.0.0.0/8"}, false},
		{"unparseable client IP exact match", "not-an-ip", []string{"not-an-ip"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IPAllowed(tt.clientIP, tt.allowList); got != tt.want {
				t.Errorf("IPAllowed(%q, %v) = %v, want %v", tt.clientIP, tt.allowList, got, tt.want)
			}
		})
	}
}

func TestSatisfied(t *testing.T) {
	tests := []struct {
		name        string
		have        []string
		required    []string
		wantOK      bool
		wantMissing string
	}{
		{"empty required", nil, nil, true, ""},
		{"empty required with grants", []string{"key:read"}, nil, true, ""},
		{"subset", []string{"key:read", "key:write"}, []string{"key:read"}, true, ""},
		{"exact", []string{"key:read"}, []string{"key:read"}, true, ""},
		{"missing one", []string{"key:read"}, []string{"key:read", "key:write"}, false, "key:write"},
		{"missing all", nil, []string{"key:read"}, false, "key:read"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			missing, ok := Satisfied(tt.have, tt.required)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if missing != tt.wantMissing {
				t.Errorf("missing = %q, want %q", missing, tt.wantMissing)
			}
		})
	}
}

func TestValidateAllowList(t *testing.T) {
	valid := [][]string{
		nil,
		{"192.168.1.1"},
		{"0.0.0.0"},
		{"255.255.255.255"},
		{"203.0.113.0/24"},
		{"10.0.0.0/8", "192.168.1.1"},
		{"203.0.113.0/0"},
		{"203.0.113.1/32"},
	}
	for _, entries := range valid {
		if err := ValidateAllowList(entries); err != nil {
			t.Errorf("ValidateAllowList(%v) = %v, want nil", entries, err)
		}
	}

	invalid := [][]string{
		{"999.1.1.1"},
		{"192.168.1"},
		{"192.168.1.1.1"},
		{"192.168.1.-1"},
		{"a.b.c.d"},
		{"203.0.113.0/33"},
		{"203.0.113.0/-1"},
		{"203.0.113.0/abc"},
		{""},
		{"10.0.0.0/8", "bogus"},
	}
	for _, entries := range invalid {
		if err := ValidateAllowList(entries); err == nil {
			t.Errorf("ValidateAllowList(%v) = nil, want error", entries)
		}
	}
}

func TestValidatePermissions(t *testing.T) {
	if err := ValidatePermissions([]string{"key:read", "key:write", "admin:all"}); err != nil {
		t.Errorf("known permissions rejected: %v", err)
	}
	if err := ValidatePermissions(nil); err != nil {
		t.Errorf("empty set rejected: %v", err)
	}
	if err := ValidatePermissions([]string{"key:read", "galaxy:admin"}); err == nil {
		t.Error("unknown permission accepted")
	}
}
