package auth

import (
	"time"

	"chat-core/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the data stored inside a session token.
type Claims struct {
	IdentityID string `json:"identity_id"`
	Username   string `json:"username"`
	jwt.RegisteredClaims
}

// TokenManager signs and validates session tokens. The secret comes from
// configuration, never from source.
type TokenManager struct {
	secret   []byte
	duration time.Duration
}

func NewTokenManager(secret string, duration time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), duration: duration}
}

// Generate creates a signed token for an identity.
func (m *TokenManager) Generate(identity domain.Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		IdentityID: string(identity.ID),
		Username:   identity.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "chat-core",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Validate parses the token and checks signature and expiration.
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}
