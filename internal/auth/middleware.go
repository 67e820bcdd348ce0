// Package auth resolves the caller's identity from the Authorization header.
package auth

import (
	"context"
	"net/http"
	"strings"

	apperrors "regdocs-chat/internal/errors"
	"regdocs-chat/internal/logger"
)

type contextKey string

// UserContextKey is the context key for storing the authenticated user
const UserContextKey contextKey = "user"

// Authenticator maps bearer tokens to user IDs. In mock mode the token is
// the user ID; in token mode only configured tokens are accepted.
type Authenticator struct {
	mode   string
	tokens map[string]string
}

func NewAuthenticator(mode string, tokens map[string]string) *Authenticator {
	return &Authenticator{mode: mode, tokens: tokens}
}

// Identify returns the user behind the request's bearer token.
func (a *Authenticator) Identify(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", apperrors.ErrMissingAuthHeader
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", apperrors.ErrInvalidAuthHeader
	}

	token := parts[1]
	if a.mode == "token" {
		user, ok := a.tokens[token]
		if !ok || user == "" {
			return "", apperrors.ErrInvalidToken
		}
		return user, nil
	}
	return token, nil
}

// Middleware adds the resolved user to the request context. Requests
// without a valid identity pass through anonymous; handlers decide whether
// that is an error.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.Identify(r)
		if err != nil {
			if logger.IsDebugEnabled() {
				logger.Debug("anonymous request to %s: %v", r.URL.Path, err)
			}
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(UserContextKey).(string)
	return user, ok && user != ""
}

// GetUserFromContext returns the authenticated user or "" for anonymous
// requests.
func GetUserFromContext(ctx context.Context) string {
	user, _ := UserFromContext(ctx)
	return user
}
