// Package endpoint implements the stable client-identity capability object
// used as the admission key throughout pkg/admission.
package endpoint

import (
	"net/netip"
)

// Endpoint is a capability-object identifying a client by address. Two
// addresses that resolve to the same underlying client (e.g. an IPv4
// address and its IPv4-mapped-IPv6 form) normalize to the same Endpoint, so
// they share admission state.
//
// Endpoint is comparable and safe to use as a map key or generic type
// parameter constrained to HashKey.
type Endpoint struct {
	address string
	hash    uint32
}

// New builds an Endpoint for addr, normalizing IPv4-mapped IPv6 forms
// (::ffff:a.b.c.d) down to plain IPv4 so both forms share one key.
func New(addr string) Endpoint {
	canonical := normalize(addr)
	return Endpoint{address: canonical, hash: fnv32a(canonical)}
}

// normalize reduces an IPv4-mapped-IPv6 address (and bracketed/zoned forms)
// to its canonical string form. Non-IP or already-canonical input passes
// through unchanged.
func normalize(addr string) string {
	host := addr
	// Strip a port suffix for the common "host:port" form, but only when it
	// parses cleanly — bare IPv6 literals contain colons too.
	if h, _, err := splitHostPort(addr); err == nil {
		host = h
	}

	ip, err := netip.ParseAddr(host)
	if err != nil {
		return addr
	}
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	return ip.String()
}

// splitHostPort is a small local helper so we don't drag in net.SplitHostPort's
// stricter bracket requirements for bare IPv6 addresses.
func splitHostPort(addr string) (host, port string, err error) {
	i := lastIndexByte(addr, ':')
	if i < 0 {
		return "", "", errNoPort
	}
	// If there's more than one colon and it's not bracketed, it's a bare
	// IPv6 literal with no port — reject so callers fall back to the raw
	// address.
	if lastIndexByte(addr[:i], ':') >= 0 && addr[0] != '[' {
		return "", "", errNoPort
	}
	host = addr[:i]
	port = addr[i+1:]
	if len(host) >= 2 && host[0] == '[' && host[len(host)-1] == ']' {
		host = host[1 : len(host)-1]
	}
	return host, port, nil
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}

var errNoPort = &noPortError{}

type noPortError struct{}

func (*noPortError) Error() string { return "endpoint: no port in address" }

// Address returns the normalized, canonical address string.
func (e Endpoint) Address() string { return e.address }

// HashCode returns a stable 32-bit hash of the endpoint's canonical address.
func (e Endpoint) HashCode() uint32 { return e.hash }

// Equal reports whether e and other identify the same client.
func (e Endpoint) Equal(other Endpoint) bool { return e.address == other.address }

// String implements fmt.Stringer for diagnostics.
func (e Endpoint) String() string { return e.address }

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// fnv32a hashes s with the standard FNV-1a algorithm for per-endpoint hash
// stability; the avalanche step applied at shard-selection time lives in
// pkg/admission/tokenbucket.
func fnv32a(s string) uint32 {
	h := uint32(fnvOffset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}
