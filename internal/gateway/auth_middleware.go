package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/peregrinehq/gangway/internal/faults"
	"github.com/peregrinehq/gangway/internal/service/identity"
)

// TokenValidator is the slice of the identity provider the gateway needs.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (identity.Validation, error)
}

type authContextKey string

const contextKeyAuth authContextKey = "gangway-auth-info"

type authInfo struct {
	Subject string
}

// requireAuth ensures the request carries a valid bearer token before
// invoking the handler. The resolved subject is attached to the context for
// logging only; the gateway performs no per-user authorization.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeFault(w, faults.New(faults.CategoryAuth, faults.CodeAuthError, "authentication required"))
			return
		}
		validation, err := r.validator.ValidateToken(req.Context(), token)
		if err != nil {
			r.logger.Error("token validation unavailable", "error", err, "path", req.URL.Path)
			writeFault(w, faults.Categorize(err))
			return
		}
		if !validation.Valid {
			r.logger.Warn("token rejected", "reason", validation.Reason, "path", req.URL.Path)
			ferr := faults.New(faults.CategoryAuth, faults.CodeTokenInvalid, "authentication failed")
			ferr.Details = validation.Reason
			writeFault(w, ferr)
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyAuth, authInfo{Subject: validation.Subject})
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

// bearerToken extracts the token from an Authorization header value. A
// missing header, a non-Bearer scheme and a malformed value are all the
// same validation failure.
func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
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
