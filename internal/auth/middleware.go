package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-tzsmmpay/internal/common"
)

// TokenParser resolves a bearer token to its subject. *AdminTokens satisfies it.
type TokenParser interface {
	Parse(token string) (string, error)
}

// Middleware guards back-office routes with bearer tokens.
type Middleware struct {
	Tokens TokenParser
}

// RequireAdmin rejects requests without a valid admin token and stores the
// token subject on the request context.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Tokens == nil {
			common.JSONError(w, http.StatusServiceUnavailable, "ADMIN_DISABLED", "admin api not configured", nil)
			return
		}
		token := bearerToken(r)
		if token == "" {
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		subject, err := m.Tokens.Parse(token)
		if err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Str("client_ip", common.ClientIP(r)).Msg("admin_token_rejected")
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				common.WriteError(w, appErr)
				return
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithSubject(r.Context(), subject)))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
