// Package policy holds the pure predicate logic behind token authorization:
// IP allow-list matching and permission/scope subset checks. Nothing here
// touches storage or clocks, so every function is safe to call concurrently.
package policy

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/SURIYAPRASAAD04/KeyOrbit-Server/internal/model"
)

// IPAllowed reports whether clientIP passes the allow-list. An empty list
// permits any address, including a missing one. Entries are either IPv4
// literals or CIDR ranges; entries must have been validated at write time
// with ValidateAllowList, so malformed ones are simply skipped here.
func IPAllowed(clientIP string, allowList []string) bool {
	if len(allowList) == 0 {
		return true
	}
	if clientIP == "" {
		return false
	}

	ip := net.ParseIP(clientIP)
	for _, entry := range allowList {
		if !strings.Contains(entry, "/") {
			if clientIP == entry {
				return true
			}
			continue
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil || ip == nil {
			continue
		}
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Satisfied reports whether every element of required is present in have.
// An empty required set is trivially satisfied. Missing names the first
// absent element for error reporting.
func Satisfied(have, required []string) (missing string, ok bool) {
	if len(required) == 0 {
		return "", true
	}
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, r := range required {
		if !set[r] {
			return r, false
		}
	}
	return "", true
}

// ValidateAllowList checks every allow-list entry against the accepted
// grammar: a dotted-quad IPv4 literal, each octet 0-255, optionally followed
// by a /0-32 prefix length. Called on token create and update; a bad entry
// is rejected there rather than silently ignored at check time.
func ValidateAllowList(entries []string) error {
	for _, entry := range entries {
		if err := validateEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

func validateEntry(entry string) error {
	addr := entry
	if i := strings.Index(entry, "/"); i >= 0 {
		addr = entry[:i]
		prefix, err := strconv.Atoi(entry[i+1:])
		if err != nil || prefix < 0 || prefix > 32 {
			return fmt.Errorf("invalid CIDR prefix in %q: must be 0-32", entry)
		}
	}

	octets := strings.Split(addr, ".")
	if len(octets) != 4 {
		return fmt.Errorf("invalid IP entry %q: expected dotted-quad IPv4, e.g. 192.168.1.1 or 192.168.1.0/24", entry)
	}
	for _, o := range octets {
		n, err := strconv.Atoi(o)
		if err != nil || o == "" || n < 0 || n > 255 {
			return fmt.Errorf("invalid IP entry %q: octet must be 0-255", entry)
		}
	}
	return nil
}

// ValidatePermissions checks perms against the closed permission vocabulary.
func ValidatePermissions(perms []string) error {
	for _, p := range perms {
		if !model.Permissions[p] {
			return fmt.Errorf("unknown permission %q", p)
		}
	}
	return nil
}
