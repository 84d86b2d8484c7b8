package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-tzsmmpay/internal/auth"
	"github.com/noah-isme/toko-tzsmmpay/internal/common"
)

func guarded(t *testing.T, tokens *auth.AdminTokens) http.Handler {
	t.Helper()
	return auth.Middleware{Tokens: tokens}.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, ok := common.Subject(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(sub))
	}))
}

func call(h http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/orders/1042", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAdminAcceptsIssuedToken(t *testing.T) {
	tokens, err := auth.NewAdminTokens("s3cret", "toko", "toko-admin", time.Minute)
	require.NoError(t, err)
	token, _, err := tokens.Issue("ops@toko")
	require.NoError(t, err)

	rec := call(guarded(t, tokens), "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ops@toko", rec.Body.String())
}

func TestRequireAdminRejects(t *testing.T) {
	tokens, err := auth.NewAdminTokens("s3cret", "toko", "toko-admin", time.Minute)
	require.NoError(t, err)
	other, err := auth.NewAdminTokens("different", "toko", "toko-admin", time.Minute)
	require.NoError(t, err)
	foreign, _, err := other.Issue("ops@toko")
	require.NoError(t, err)

	shopperTok, err := jwt.NewBuilder().Issuer("toko").Audience([]string{"toko-admin"}).Subject("u1").
		Expiration(time.Now().Add(time.Minute)).Claim(auth.RoleClaim, "shopper").Build()
	require.NoError(t, err)
	shopper, err := jwt.Sign(shopperTok, jwt.WithKey(jwa.HS256, []byte("s3cret")))
	require.NoError(t, err)

	h := guarded(t, tokens)
	require.Equal(t, http.StatusUnauthorized, call(h, "").Code)
	require.Equal(t, http.StatusUnauthorized, call(h, "Bearer not-a-jwt").Code)
	require.Equal(t, http.StatusUnauthorized, call(h, "Bearer "+foreign).Code)
	require.Equal(t, http.StatusForbidden, call(h, "Bearer "+string(shopper)).Code)
}

func TestRequireAdminWithoutTokens(t *testing.T) {
	rec := call(auth.Middleware{}.RequireAdmin(http.NotFoundHandler()), "Bearer x")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewAdminTokensRequiresSecret(t *testing.T) {
	_, err := auth.NewAdminTokens(" ", "", "", 0)
	require.Error(t, err)
}
