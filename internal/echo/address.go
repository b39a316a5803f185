package echo

import (
	"net/netip"
	"strings"
)

// ParseIP parses an IPv4 or IPv6 literal. Zoned IPv6 addresses are
// accepted; IPv4-mapped IPv6 addresses are unmapped.
func ParseIP(address string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// ValidAddress reports whether address is an IP literal or a syntactically
// valid host name.
func ValidAddress(address string) bool {
	if _, ok := ParseIP(address); ok {
		return true
	}
	return validHostname(address)
}

// validHostname checks RFC 1123 label syntax.
func validHostname(host string) bool {
	host = strings.TrimSuffix(host, ".")
	if host == "" || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			switch {
			case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}
	return true
}
