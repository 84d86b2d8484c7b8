package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/toko-tzsmmpay/internal/common"
)

// RoleClaim is the private claim carrying the caller's role.
const RoleClaim = "role"

// AdminTokens issues and verifies HS256 tokens for back-office endpoints.
type AdminTokens struct {
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
	ttl      time.Duration
	now      func() time.Time
}

// NewAdminTokens builds the token service. An empty secret is rejected.
func NewAdminTokens(secret, issuer, audience string, ttl time.Duration) (*AdminTokens, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: admin secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AdminTokens{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		skew:     30 * time.Second,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Issue signs an admin token for subject.
func (a *AdminTokens) Issue(subject string) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)
	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		NotBefore(now.Add(-a.skew)).
		Expiration(expiresAt).
		Claim(RoleClaim, "admin")
	if a.issuer != "" {
		builder = builder.Issuer(a.issuer)
	}
	if a.audience != "" {
		builder = builder.Audience([]string{a.audience})
	}
	token, err := builder.Build()
	if err != nil {
		return "", time.Time{}, err
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, a.secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return string(signed), expiresAt, nil
}

// Parse verifies token and returns its subject.
func (a *AdminTokens) Parse(token string) (string, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return "", common.NewAppError("UNAUTHORIZED", "missing token", http.StatusUnauthorized, nil)
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	if algorithm != jwa.HS256 {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	parsed, err := jwt.ParseString(trimmed, jwt.WithKey(algorithm, a.secret), jwt.WithValidate(false))
	if err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	if err := a.accept(parsed); err != nil {
		return "", common.NewAppError("FORBIDDEN", "token not accepted", http.StatusForbidden, err)
	}
	return parsed.Subject(), nil
}

// accept checks time bounds, issuer, audience and the admin role claim.
func (a *AdminTokens) accept(tok jwt.Token) error {
	now := a.now()
	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
		jwt.WithAcceptableSkew(a.skew),
		jwt.WithClaimValue(RoleClaim, "admin"),
	}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		options = append(options, jwt.WithAudience(a.audience))
	}
	return jwt.Validate(tok, options...)
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		switch {
		case alg == "":
			return "", errors.New("auth: token missing algorithm")
		case alg == jwa.NoSignature:
			return "", errors.New("auth: token uses none algorithm")
		case algorithm == "":
			algorithm = alg
		case algorithm != alg:
			return "", errors.New("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}
