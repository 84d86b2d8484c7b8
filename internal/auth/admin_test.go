package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

func claims(t *testing.T, issuer string, nbf, exp time.Time, role string) jwt.Token {
	t.Helper()
	b := jwt.NewBuilder().
		Issuer(issuer).
		Audience([]string{"toko-admin"}).
		Subject("ops@toko").
		IssuedAt(nbf).
		NotBefore(nbf).
		Expiration(exp)
	if role != "" {
		b = b.Claim(RoleClaim, role)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	return tok
}

func TestAdminTokensAccept(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := NewAdminTokens("s3cret", "toko", "toko-admin", time.Minute)
	require.NoError(t, err)
	a.now = func() time.Time { return now }

	require.NoError(t, a.accept(claims(t, "toko", now, now.Add(time.Minute), "admin")))
	// within the 30s skew
	require.NoError(t, a.accept(claims(t, "toko", now.Add(10*time.Second), now.Add(time.Minute), "admin")))

	cases := map[string]jwt.Token{
		"issuer mismatch": claims(t, "other", now, now.Add(time.Minute), "admin"),
		"expired":         claims(t, "toko", now.Add(-2*time.Hour), now.Add(-time.Minute), "admin"),
		"not before":      claims(t, "toko", now.Add(5*time.Minute), now.Add(10*time.Minute), "admin"),
		"wrong role":      claims(t, "toko", now, now.Add(time.Minute), "shopper"),
		"missing role":    claims(t, "toko", now, now.Add(time.Minute), ""),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, a.accept(tok))
		})
	}
}
