package security

import (
	"fmt"
	"net/netip"
	"net/url"
	"strings"

	"idea-explorer/internal/domain"
)

var blockedV4 = mustPrefixes(
	"0.0.0.0/8",          // "this" network
	"10.0.0.0/8",         // RFC1918
	"100.64.0.0/10",      // shared address space
	"127.0.0.0/8",        // loopback
	"169.254.0.0/16",     // link-local, cloud metadata
	"172.16.0.0/12",      // RFC1918
	"192.0.0.0/24",       // IETF protocol assignments
	"192.0.2.0/24",       // TEST-NET-1
	"192.88.99.0/24",     // 6to4 relay anycast
	"192.168.0.0/16",     // RFC1918
	"198.18.0.0/15",      // benchmarking
	"198.51.100.0/24",    // TEST-NET-2
	"203.0.113.0/24",     // TEST-NET-3
	"224.0.0.0/4",        // multicast
	"240.0.0.0/4",        // reserved
	"255.255.255.255/32", // broadcast
)

var blockedV6 = mustPrefixes(
	"::/128",        // unspecified
	"::1/128",       // loopback
	"fc00::/7",      // unique local
	"fe80::/10",     // link-local
	"fec0::/10",     // site-local (deprecated)
	"2001:db8::/32", // documentation
	"ff00::/8",      // multicast
)

// Prefixes that embed an IPv4 address in the low 32 bits.
var embeddedV4 = mustPrefixes(
	"::ffff:0:0/96", // IPv4-mapped
	"64:ff9b::/96",  // NAT64
	"::/96",         // IPv4-compatible (deprecated)
)

// 6to4 carries the IPv4 address in bits 16 to 48.
var sixToFour = netip.MustParsePrefix("2002::/16")

var internalSuffixes = []string{
	"localhost",
	"local",
	"internal",
	"lan",
	"home",
	"corp",
	"test",
	"example",
	"invalid",
	"localdomain",
	"home.arpa",
	"intranet",
	"private",
}

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// ValidateDestination checks a callback URL before a job is accepted.
// It inspects the scheme, IP literals and hostname syntax only; no DNS
// lookups are made, since a resolved answer can change before delivery.
// The returned error wraps domain.ErrValidation.
func ValidateDestination(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return reject("unparseable url")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return reject("scheme must be http or https")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return reject("missing host")
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if IsBlockedAddr(addr) {
			return reject(fmt.Sprintf("address %s is in a private or reserved range", addr))
		}
		return nil
	}
	if strings.Contains(host, ":") {
		return reject("invalid ip literal")
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return reject("single-label hostnames are not allowed")
	}
	for _, l := range labels {
		if l == "" {
			return reject("empty hostname label")
		}
	}
	if looksNumeric(labels[len(labels)-1]) {
		return reject("numeric hostnames are not allowed")
	}
	for _, s := range internalSuffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return reject(fmt.Sprintf("hostname under internal suffix %q", s))
		}
	}
	return nil
}

// IsBlockedAddr reports whether addr falls in a private, loopback,
// link-local, documentation or otherwise reserved range.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.WithZone("")
	if addr.Is4() {
		return inAny(addr, blockedV4)
	}
	if addr.Is4In6() {
		return inAny(addr.Unmap(), blockedV4)
	}
	for _, p := range embeddedV4 {
		if p.Contains(addr) {
			b := addr.As16()
			return inAny(netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]}), blockedV4)
		}
	}
	if sixToFour.Contains(addr) {
		b := addr.As16()
		return inAny(netip.AddrFrom4([4]byte{b[2], b[3], b[4], b[5]}), blockedV4)
	}
	return inAny(addr, blockedV6)
}

func inAny(addr netip.Addr, prefixes []netip.Prefix) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// looksNumeric catches shorthand IPv4 forms such as 127.1 or 0x7f.1 that
// some resolvers still accept. Real top-level domains are never numeric.
func looksNumeric(label string) bool {
	if strings.HasPrefix(label, "0x") {
		return true
	}
	for _, r := range label {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func reject(reason string) error {
	return fmt.Errorf("%w: webhook url rejected: %s", domain.ErrValidation, reason)
}
