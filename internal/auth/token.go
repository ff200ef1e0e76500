package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wolfeidau/forumapi/internal/models"
)

// MinSecretLength is the minimum HMAC secret size in bytes.
const MinSecretLength = 32

var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenExpired     = errors.New("token expired")
)

var errUnexpectedAlg = errors.New("unexpected signing method")

// Claims is the payload of a forum bearer token.
type Claims struct {
	SessionID string      `json:"sid"`
	Sciper    string      `json:"sciper"`
	Name      string      `json:"name"`
	Role      models.Role `json:"role"`
	IsAdmin   bool        `json:"isadmin"`

	// only iat and exp are set
	jwt.RegisteredClaims
}

// User returns the identity snapshot embedded in the token.
func (c *Claims) User() *User {
	return &User{
		Sciper:  c.Sciper,
		Name:    c.Name,
		Role:    c.Role,
		IsAdmin: c.IsAdmin,
	}
}

// TokenCodec signs and verifies HS256 bearer tokens with a single shared secret.
type TokenCodec struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// TokenCodecOption configures a TokenCodec.
type TokenCodecOption func(*TokenCodec)

// WithClock overrides the time source used for iat, exp and expiry checks.
func WithClock(now func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// NewTokenCodec creates a codec minting tokens valid for lifetime.
func NewTokenCodec(secret []byte, lifetime time.Duration, opts ...TokenCodecOption) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLength)
	}
	if lifetime <= 0 {
		return nil, fmt.Errorf("token lifetime must be positive")
	}

	c := &TokenCodec{
		secret:   secret,
		lifetime: lifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Lifetime returns the configured token lifetime.
func (c *TokenCodec) Lifetime() time.Duration {
	return c.lifetime
}

// Mint issues a token for the session and user, valid from now for the token lifetime.
func (c *TokenCodec) Mint(sessionID string, user *User) (string, error) {
	now := c.now()
	return c.Encode(&Claims{
		SessionID: sessionID,
		Sciper:    user.Sciper,
		Name:      user.Name,
		Role:      user.Role,
		IsAdmin:   user.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
		},
	})
}

// Encode signs the claims as they are.
func (c *TokenCodec) Encode(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature and returns the claims.
//
// The signature is checked first, so a tampered token never reports ErrTokenExpired.
// With allowExpired, an expired but correctly signed token is returned without error;
// otherwise the claims are returned alongside ErrTokenExpired.
func (c *TokenCodec) Decode(tokenString string, allowExpired bool) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errUnexpectedAlg
		}
		return c.secret, nil
	}, jwt.WithoutClaimsValidation(), jwt.WithStrictDecoding())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || corruptSignature(tokenString) {
			return nil, ErrInvalidSignature
		}
		// bad segments, non-JSON payload and foreign algorithms
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	if claims.SessionID == "" || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing sid or exp claim", ErrMalformedToken)
	}

	if !allowExpired && !c.now().Before(claims.ExpiresAt.Time) {
		return claims, ErrTokenExpired
	}

	return claims, nil
}

// corruptSignature reports a three segment token whose signature is not canonical base64url.
func corruptSignature(tokenString string) bool {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return false
	}
	_, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	return err != nil
}
