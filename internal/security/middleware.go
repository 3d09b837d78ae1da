package security

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type claimsKey struct{}

// ClaimsFromContext returns the verified claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// ContextWithClaims is used by Middleware and by tests that call handlers directly.
func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// TokenFromRequest reads "<prefix><token>" from the Jwt-Token header, falling back to Authorization.
func TokenFromRequest(r *http.Request) (string, bool) {
	for _, h := range []string{TokenHeader, "Authorization"} {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		if !strings.HasPrefix(v, TokenPrefix) {
			return "", false
		}
		return strings.TrimSpace(v[len(TokenPrefix):]), true
	}
	return "", false
}

// Middleware lets public paths and pre-flight requests through and demands a valid token elsewhere.
func Middleware(tokens *TokenProvider, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublic(r.Method, r.URL.Path) {
				if r.Method == OptionsHTTPMethod {
					w.WriteHeader(http.StatusOK)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := TokenFromRequest(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, ForbiddenMessage)
				return
			}
			claims, err := tokens.Verify(raw)
			if err != nil {
				logger.Debugw("token rejected", "path", r.URL.Path, "err", err)
				writeJSON(w, http.StatusUnauthorized, TokenCannotBeVerified)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), claims)))
		})
	}
}

// RequireAuthority wraps h so only tokens carrying authority reach it.
func RequireAuthority(authority string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ForbiddenMessage)
			return
		}
		if !claims.HasAuthority(authority) {
			writeJSON(w, http.StatusForbidden, AccessDeniedMessage)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
