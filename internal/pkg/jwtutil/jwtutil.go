package jwtutil

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrAccessRequired  = errors.New("access token required")
	ErrRefreshRequired = errors.New("refresh token required")
)

// Claims marks refresh tokens with Refresh so they cannot stand in for
// access tokens and the other way round.
type Claims struct {
	UserUID  string `json:"uid"`
	Username string `json:"username"`
	Refresh  bool   `json:"refresh"`
	jwt.RegisteredClaims
}

// JTI returns the token id used for revocation.
func (c *Claims) JTI() string {
	return c.ID
}

// Remaining is the time left before the token expires, never negative.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	d := c.ExpiresAt.Time.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// GenerateToken issues an access token.
func GenerateToken(secret string, expiration time.Duration, userUID, username string) (string, error) {
	return generate(secret, expiration, userUID, username, false)
}

// GenerateRefreshToken issues a token that is only good for obtaining new
// access tokens.
func GenerateRefreshToken(secret string, expiration time.Duration, userUID, username string) (string, error) {
	return generate(secret, expiration, userUID, username, true)
}

func generate(secret string, expiration time.Duration, userUID, username string, refresh bool) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("generate token failed: empty secret")
	}
	now := time.Now()
	claims := Claims{
		UserUID:  userUID,
		Username: username,
		Refresh:  refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userUID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token failed: %w", err)
	}
	return signed, nil
}

// ParseToken validates signature and expiry for either kind of token.
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserUID == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseAccessToken is ParseToken that rejects refresh tokens.
func ParseAccessToken(secret, tokenString string) (*Claims, error) {
	claims, err := ParseToken(secret, tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Refresh {
		return nil, ErrAccessRequired
	}
	return claims, nil
}

// ParseRefreshToken is ParseToken that rejects access tokens.
func ParseRefreshToken(secret, tokenString string) (*Claims, error) {
	claims, err := ParseToken(secret, tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.Refresh {
		return nil, ErrRefreshRequired
	}
	return claims, nil
}
