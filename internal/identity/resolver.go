package identity

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const (
	Unknown   = "unknown"
	System    = "system"
	Localhost = "localhost"
)

// KeyFunc derives a caller identity from a request. An empty result means
// "no opinion" and resolution falls through to the forwarding headers.
type KeyFunc func(r *http.Request) string

type Resolver struct {
	keyFn KeyFunc
}

func NewResolver(keyFn KeyFunc) *Resolver {
	return &Resolver{keyFn: keyFn}
}

// Resolve applies the precedence: key function, X-Forwarded-For (first entry),
// X-Real-IP, transport peer address, then "unknown".
func (r *Resolver) Resolve(req *http.Request) string {
	if req == nil {
		return Unknown
	}

	if r != nil && r.keyFn != nil {
		if key := strings.TrimSpace(r.keyFn(req)); key != "" {
			return key
		}
	}

	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := Normalize(first); ip != "" {
			return ip
		}
	}

	if ip := Normalize(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	if ip := Normalize(req.RemoteAddr); ip != "" {
		return ip
	}

	return Unknown
}

// Normalize strips ports and IPv6 zones and folds every loopback form to "localhost".
func Normalize(raw string) string {
	host := strings.TrimSpace(raw)
	if host == "" {
		return ""
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")

	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}

	if strings.EqualFold(host, Localhost) {
		return Localhost
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}

	addr = addr.Unmap()
	if addr.IsLoopback() {
		return Localhost
	}

	return addr.String()
}

// Reserved reports whether identity is one of the literals that never map to a real caller.
func Reserved(identity string) bool {
	return identity == "" || identity == Unknown || identity == System
}
