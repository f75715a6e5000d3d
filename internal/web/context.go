package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/fluent/internal/core"
)

// WithRequestMetadata adds the User-Agent to ctx for the compliance log. The
// client IP normally comes from TrustedRealIP and the actor from APIKeyAuth;
// RemoteAddr stands in when the IP is missing.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	if core.IPAddressFromContext(ctx) == "" {
		ctx = core.ContextWithIPAddress(ctx, r.RemoteAddr)
	}
	return core.ContextWithUserAgent(ctx, r.Header.Get("User-Agent"))
}
