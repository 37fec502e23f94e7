package security

import (
	"net"
	"net/http"
	"strings"
)

// IPResolver decides which address a request is attributed to for rate
// limiting and audit records.
//
// Proxy headers are only consulted when TrustProxy is set. X-Forwarded-For is
// read from the right: the last TrustedProxyCount entries are our own proxies
// and the entry just before them is the client.
type IPResolver struct {
	TrustProxy        bool
	TrustedProxyCount int
}

// ClientIP returns the client address of r.
func (res IPResolver) ClientIP(r *http.Request) string {
	if res.TrustProxy {
		if ip := forwardedClientIP(r.Header.Get("X-Forwarded-For"), res.TrustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return remoteHost(r.RemoteAddr)
}

func forwardedClientIP(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	hops := strings.Split(xff, ",")

	proxies := trustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	idx := max(len(hops)-proxies-1, 0)

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
