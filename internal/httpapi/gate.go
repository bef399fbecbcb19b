package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"shopfront.io/internal/auth"
	"shopfront.io/internal/obs"
	"shopfront.io/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Authenticate verifies the access token from the access cookie or the
// Authorization header and attaches the caller's identity.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := a.accessToken(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.tokens.VerifyAccess(raw)
		if err != nil {
			obs.ObserveVerifyFailure(token.TypeAccess)
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), auth.Identity{
			UserID:  claims.Subject,
			Role:    claims.Role,
			TokenID: claims.ID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission admits callers whose stored role or overrides grant key.
// It must run after Authenticate.
func (a *API) RequirePermission(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !a.resolver.HasPermission(r.Context(), id.UserID, key) {
				a.logger.Info("permission denied",
					zap.String("user_id", id.UserID),
					zap.String("permission", key),
					zap.String("request_id", RequestIDFromContext(r.Context())))
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits callers whose token role claim equals role exactly.
// It must run after Authenticate.
func (a *API) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if id.Role != role {
				writeError(w, r, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) withPermission(key string) func(http.HandlerFunc) http.Handler {
	return func(h http.HandlerFunc) http.Handler {
		return a.Authenticate(a.RequirePermission(key)(h))
	}
}

func (a *API) withRole(role string) func(http.HandlerFunc) http.Handler {
	return func(h http.HandlerFunc) http.Handler {
		return a.Authenticate(a.RequireRole(role)(h))
	}
}

func (a *API) accessToken(r *http.Request) (string, error) {
	if c, err := r.Cookie(a.cookies.accessName); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value), nil
	}
	return extractBearerToken(r.Header.Get(authHeader))
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	tok := strings.TrimSpace(header[len(bearer):])
	if tok == "" {
		return "", errors.New("missing bearer token")
	}
	return tok, nil
}
