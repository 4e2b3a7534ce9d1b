package utils

import (
	"errors"
	"time"

	"counsel/config"

	"github.com/golang-jwt/jwt"
)

// Identity is the subject carried by the platform bearer token. The realtime
// channel registers rooms under AccountID; Role decides which side of a
// session this process plays.
type Identity struct {
	AccountID string
	Role      string // "client" or "professional"
	ExpiresAt time.Time
}

func secretKey() []byte {
	return []byte(config.AppConfig.JWTSecret)
}

// ValidateToken parses and validates a token string and returns the token if valid.
func ValidateToken(tokenString string) (*jwt.Token, error) {
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Ensure that the token's signing method is HMAC.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secretKey(), nil
	})
}

// IdentityFromToken extracts the account identity from a valid bearer token.
func IdentityFromToken(tokenString string) (*Identity, error) {
	token, err := ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, errors.New("token does not contain a valid 'sub' claim")
	}

	id := &Identity{AccountID: sub}
	if role, ok := claims["role"].(string); ok {
		id.Role = role
	}
	if exp, ok := claims["exp"].(float64); ok {
		id.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return id, nil
}

// TokenExpired reports whether the identity's token has already lapsed.
func TokenExpired(id *Identity) bool {
	return !id.ExpiresAt.IsZero() && time.Now().After(id.ExpiresAt)
}
