package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	autherr "go.vitreo.hu/authgate/errors"
)

// Claims carried by a locally issued access token.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Codec signs and verifies locally issued bearer tokens. Tokens are HS256
// JWTs signed with a process-wide secret injected at construction. The codec
// is immutable after construction and safe for concurrent use.
type Codec struct {
	signingKey []byte
	lifetime   time.Duration
	now        func() time.Time
}

// NewCodec creates a Codec with the given signing secret and token lifetime.
func NewCodec(signingKey string, lifetime time.Duration) *Codec {
	return &Codec{
		signingKey: []byte(signingKey),
		lifetime:   lifetime,
		now:        time.Now,
	}
}

// Issue constructs and signs a token for the given username and role.
// Expiry is issuance time plus the configured lifetime.
func (c *Codec) Issue(username, role string) (string, error) {
	now := c.now()
	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Lifetime returns the configured token lifetime.
func (c *Codec) Lifetime() time.Duration {
	return c.lifetime
}

// Verify parses and validates a raw token. Only HMAC-signed tokens are
// accepted; "none" and asymmetric algorithms are rejected to prevent
// algorithm confusion. Returns ExpiredCredential for expired tokens and
// MalformedCredential for every other validation failure.
func (c *Codec) Verify(rawToken string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(rawToken, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return c.signingKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return c.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherr.NewExpiredCredential()
		}
		return nil, autherr.NewMalformedCredential()
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, autherr.NewMalformedCredential()
	}
	if claims.Username == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, autherr.NewMalformedCredential()
	}

	return claims, nil
}
