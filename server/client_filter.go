package server

import (
	"net/netip"
	"strings"

	"github.com/pkg/errors"
)

// ClientFilter performs allow/deny filtering of client IP addresses
type ClientFilter struct {
	allow []netip.Prefix
	deny  []netip.Prefix
}

func NewClientFilterAllowAll() *ClientFilter {
	return &ClientFilter{}
}

// NewClientFilter provides a mechanism to evaluate client IP addresses and determine if
// they should be allowed access or not.
// Each entry of allows and denies can be a single IP address or a CIDR block.
func NewClientFilter(allows []string, denies []string) (*ClientFilter, error) {
	allow, err := parsePrefixes(allows)
	if err != nil {
		return nil, errors.Wrap(err, "invalid allow filter")
	}
	deny, err := parsePrefixes(denies)
	if err != nil {
		return nil, errors.Wrap(err, "invalid deny filter")
	}
	return &ClientFilter{
		allow: allow,
		deny:  deny,
	}, nil
}

func parsePrefixes(filters []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(filters))

	for _, filter := range filters {
		if strings.Contains(filter, "/") {
			prefix, err := netip.ParsePrefix(filter)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, prefix)
		} else {
			addr, err := netip.ParseAddr(filter)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}

	return prefixes, nil
}

// Allow determines if the given address is allowed by this filter
func (f *ClientFilter) Allow(addrPort netip.AddrPort) bool {
	// Unmap addresses such as ::ffff:127.0.0.1 before comparison
	addr := addrPort.Addr().Unmap()

	if len(f.allow) > 0 {
		return matchesAny(f.allow, addr)
	}
	if len(f.deny) > 0 {
		return !matchesAny(f.deny, addr)
	}

	return true
}

func matchesAny(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
