package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/permgate/pkg/auth"
	"github.com/platinummonkey/permgate/pkg/httputil"
	"github.com/platinummonkey/permgate/pkg/rbac"
)

// Authenticator resolves a bearer token to the caller's identity
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*rbac.Principal, error)
}

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	authenticator Authenticator
	optional      bool // If true, allow requests without auth
	log           *logrus.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(authenticator Authenticator, optional bool, log *logrus.Logger) *AuthMiddleware {
	if log == nil {
		log = logrus.New()
	}
	return &AuthMiddleware{
		authenticator: authenticator,
		optional:      optional,
		log:           log,
	}
}

// Handler wraps an HTTP handler with authentication. A resolved identity is
// placed on the request context with rbac.WithPrincipal.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Format: "Bearer <token>"
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		token, ok := parseBearer(authHeader)
		if !ok {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		principal, err := m.authenticator.Authenticate(r.Context(), token)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrInvalidToken),
			errors.Is(err, auth.ErrTokenExpired),
			errors.Is(err, auth.ErrTokenRevoked):
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		default:
			m.log.WithError(err).WithField("path", r.URL.Path).Error("token authentication failed")
			httputil.WriteInternalError(w)
			return
		}

		ctx := rbac.WithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func parseBearer(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetPrincipal extracts the authenticated identity from a request
func GetPrincipal(r *http.Request) *rbac.Principal {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		return nil
	}
	return principal
}
