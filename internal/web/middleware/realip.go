package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/JonMunkholm/fluent/internal/core"
)

// TrustedRealIP resolves the client address of each request and stores it on
// the context for the compliance log (core.IPAddressFromContext) and the
// rate limiters.
//
// Forwarding headers are only read when the connection comes from one of
// trustedCIDRs. X-Real-IP wins; otherwise X-Forwarded-For is walked from the
// right, skipping trusted hops, so a client cannot pick its own address by
// prepending entries. When a header supplies the address, r.RemoteAddr is
// rewritten to it.
func TrustedRealIP(trustedCIDRs []string) func(http.Handler) http.Handler {
	proxies := parseTrusted(trustedCIDRs)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, ok := addrOf(r.RemoteAddr)
			client := peer

			if ok && proxies.contains(peer) {
				if ip, found := proxies.forwardedClient(r.Header); found {
					client = ip
					r.RemoteAddr = ip.String()
				}
			}

			ipText := r.RemoteAddr
			if client.IsValid() {
				ipText = client.String()
			}
			ctx := core.ContextWithIPAddress(r.Context(), ipText)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type trustedProxies []netip.Prefix

// parseTrusted accepts CIDRs and bare addresses; invalid entries are skipped
// with a warning.
func parseTrusted(entries []string) trustedProxies {
	var out trustedProxies
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			slog.Warn("realip: invalid trusted proxy, skipping", "entry", entry, "error", err)
			continue
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

func (t trustedProxies) contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range t {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedClient reads the client address from the forwarding headers.
func (t trustedProxies) forwardedClient(h http.Header) (netip.Addr, bool) {
	if rip := strings.TrimSpace(h.Get("X-Real-IP")); rip != "" {
		addr, err := netip.ParseAddr(rip)
		return addr.Unmap(), err == nil
	}

	xff := h.Get("X-Forwarded-For")
	if xff == "" {
		return netip.Addr{}, false
	}

	hops := strings.Split(xff, ",")
	var last netip.Addr
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return netip.Addr{}, false
		}
		last = addr.Unmap()
		if !t.contains(last) {
			return last, true
		}
	}
	// Every hop is a trusted proxy; the leftmost is the closest to the client.
	return last, true
}

// addrOf parses the IP of a host:port string or a bare address.
func addrOf(remote string) (netip.Addr, bool) {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
