package security

import (
	"net/http"
	"strings"
	"time"
)

const (
	// ExpirationTime is 432,000,000 ms.
	ExpirationTime = 5 * 24 * time.Hour

	TokenPrefix      = "Bearer "
	TokenHeader      = "Jwt-Token"
	AuthoritiesClaim = "authorities"

	DefaultIssuer   = "Get Arrays, LLC"
	DefaultAudience = "User Management Portal"

	TokenCannotBeVerified = "Token cannot be verified"
	ForbiddenMessage      = "You need to log in to access this page"
	AccessDeniedMessage   = "You do not have permission to access this page"

	OptionsHTTPMethod = http.MethodOptions
)

// PublicURLs bypass token checks. A trailing "/**" matches the prefix and everything below it.
var PublicURLs = []string{"/user/login", "/user/register", "/user/image/**", "/health"}

// IsPublic reports whether a request needs no token.
func IsPublic(method, path string) bool {
	if method == OptionsHTTPMethod {
		return true
	}
	for _, p := range PublicURLs {
		if prefix, ok := strings.CutSuffix(p, "/**"); ok {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if path == p {
			return true
		}
	}
	return false
}
