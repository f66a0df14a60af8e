package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/JonMunkholm/companyimport/internal/core"
)

type ownerKey struct{}

var (
	errMissingOwner = errors.New("missing owner identity")
	errInvalidOwner = errors.New("invalid owner identity")
)

// WithRequestMetadata records the caller's IP and User-Agent on ctx.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.WithClient(ctx, core.Client{IP: clientIP(r), UserAgent: r.UserAgent()})
}

// ownerFromContext returns the authenticated owner id set by requireOwner.
func ownerFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(ownerKey{}).(int64)
	return id
}

// requireOwner reads the owner id forwarded by the gateway in header and
// rejects requests without a positive integer id.
func requireOwner(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(header))
			if raw == "" {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{
					Error: errMissingOwner.Error(), Message: errMissingOwner.Error(), Code: "AUTH_MISSING_OWNER",
				})
				return
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{
					Error: errInvalidOwner.Error(), Message: errInvalidOwner.Error(), Code: "AUTH_INVALID_OWNER",
				})
				return
			}

			ctx := context.WithValue(r.Context(), ownerKey{}, id)
			ctx = WithRequestMetadata(ctx, r)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientIP strips the port from RemoteAddr, which TrustedRealIP has already rewritten.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
