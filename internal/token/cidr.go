package token

import (
	"fmt"
	"net/netip"
	"strings"
)

// ParseCIDRList parses a newline-separated allowlist. Lines starting with #
// are comments; inline comments after # are stripped. Entries may be bare
// IPs or CIDR blocks.
func ParseCIDRList(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// ValidateCIDRList checks that every non-comment entry parses as an IP or a
// CIDR block, so bad allowlists are rejected at write time instead of being
// silently skipped at match time.
func ValidateCIDRList(text string) error {
	for _, entry := range ParseCIDRList(text) {
		var err error
		if strings.Contains(entry, "/") {
			_, err = netip.ParsePrefix(entry)
		} else {
			_, err = netip.ParseAddr(entry)
		}
		if err != nil {
			return fmt.Errorf("invalid IP or CIDR entry %q", entry)
		}
	}
	return nil
}

// CIDRListContains reports whether clientIP matches any entry in the list.
// Bare IP entries match by equality, CIDR entries by containment. Entries
// that fail to parse are skipped rather than failing the whole check.
func CIDRListContains(entries []string, clientIP string) bool {
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				continue
			}
			if prefix.Masked().Contains(addr) {
				return true
			}
			continue
		}
		other, err := netip.ParseAddr(entry)
		if err != nil {
			continue
		}
		if other.Unmap() == addr {
			return true
		}
	}
	return false
}
