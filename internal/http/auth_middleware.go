package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/splax/recipebox/internal/domain"
	"github.com/splax/recipebox/internal/service/auth"
)

type authContextKey string

const contextKeyUser authContextKey = "recipebox-auth-user"

var errMissingBearer = errors.New("missing authorization header")

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request has a valid bearer token before invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the Authorization header and attaches the user to the
// context. A missing token is 401, a token that fails verification or whose
// user is gone is 403.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "Access token required")
		return req.Context(), false
	}
	user, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusForbidden, "Invalid token")
			return req.Context(), false
		}
		r.logger.Error("token user lookup failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "Authentication failed")
		return req.Context(), false
	}
	ctx := context.WithValue(req.Context(), contextKeyUser, user)
	return ctx, true
}

// userFromContext extracts the authenticated user from context.
func userFromContext(ctx context.Context) (*domain.User, bool) {
	user, ok := ctx.Value(contextKeyUser).(*domain.User)
	return user, ok && user != nil
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errMissingBearer
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
