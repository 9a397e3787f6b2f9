package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
)

type clientIPKey struct{}

// TrustedRealIP resolves the client address once per request and stores it
// in the context for ClientIP. Forwarding headers are read only when the
// connection comes from one of the trusted proxies; otherwise the socket
// address is the client.
//
// X-Real-IP wins when it holds a valid address. X-Forwarded-For is walked
// from the right, skipping trusted hops, so entries a client prepends
// itself are never used.
func TrustedRealIP(trustedProxies []string) func(http.Handler) http.Handler {
	trusted := parseProxies(trustedProxies)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remote, ok := remoteAddr(r.RemoteAddr)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			client := remote
			if trusted.contains(remote) {
				if ip, ok := forwarded(r.Header, trusted); ok {
					client = ip
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPKey{}, client)))
		})
	}
}

// ClientIP returns the address resolved by TrustedRealIP, or the socket
// address without its port when the middleware did not run.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(netip.Addr); ok {
		return ip.String()
	}
	if ip, ok := remoteAddr(r.RemoteAddr); ok {
		return ip.String()
	}
	return r.RemoteAddr
}

type proxySet []netip.Prefix

// parseProxies accepts CIDRs and bare addresses. Invalid entries are
// logged and skipped.
func parseProxies(entries []string) proxySet {
	var set proxySet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if p, err := netip.ParsePrefix(entry); err == nil {
			set = append(set, p.Masked())
			continue
		}
		ip, err := netip.ParseAddr(entry)
		if err != nil {
			slog.Warn("realip: invalid trusted proxy, skipping", "proxy", entry, "error", err)
			continue
		}
		ip = ip.Unmap()
		set = append(set, netip.PrefixFrom(ip, ip.BitLen()))
	}
	return set
}

func (s proxySet) contains(ip netip.Addr) bool {
	for _, p := range s {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func forwarded(h http.Header, trusted proxySet) (netip.Addr, bool) {
	if ip, ok := parseIP(h.Get("X-Real-IP")); ok {
		return ip, true
	}

	hops := strings.Split(h.Get("X-Forwarded-For"), ",")
	var leftmost netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		ip, ok := parseIP(hops[i])
		if !ok {
			// A malformed hop ends the chain we can vouch for.
			break
		}
		if !trusted.contains(ip) {
			return ip, true
		}
		leftmost = ip
	}
	return leftmost, leftmost.IsValid()
}

func remoteAddr(addr string) (netip.Addr, bool) {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap.Addr().Unmap(), true
	}
	return parseIP(addr)
}

func parseIP(s string) (netip.Addr, bool) {
	ip, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}
