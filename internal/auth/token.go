package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("authentication required")
	ErrInvalidToken = errors.New("invalid token")
)

const defaultTokenTTL = 7 * 24 * time.Hour

// Claims is the payload issued at login. userId is the only claim the
// messaging side relies on.
type Claims struct {
	UserID      string `json:"userId"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Email       string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 bearer tokens and can mint them for dev tooling
// and tests.
type JWTVerifier struct {
	secret []byte
	ttl    time.Duration
}

func NewJWTVerifier(secret string, ttl time.Duration) *JWTVerifier {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &JWTVerifier{secret: []byte(secret), ttl: ttl}
}

// Verify returns the user identity carried by token.
func (v *JWTVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !parsed.Valid || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}

// Issue signs a token for userID that expires after the configured TTL.
func (v *JWTVerifier) Issue(userID, phoneNumber, email string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:      userID,
		PhoneNumber: phoneNumber,
		Email:       email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
