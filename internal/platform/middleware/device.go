package middleware

import (
	"fmt"
	"net"
	"net/http"

	"github.com/mssola/useragent"

	"attest/pkg/requestcontext"
)

// DeviceMetadata normalizes the client user agent and remote address into the
// request context. Change events and security logs attach them so a user can
// recognize "Chrome on Linux from 203.0.113.7" in their activity history.
func DeviceMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if raw := r.UserAgent(); raw != "" {
			ua := useragent.New(raw)
			name, version := ua.Browser()
			normalized := raw
			if name != "" {
				normalized = fmt.Sprintf("%s/%s (%s)", name, version, ua.OS())
			}
			ctx = requestcontext.WithUserAgent(ctx, normalized)
		}

		ip := r.Header.Get("X-Forwarded-For")
		if ip == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err == nil {
				ip = host
			} else {
				ip = r.RemoteAddr
			}
		}
		ctx = requestcontext.WithClientIP(ctx, ip)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
