package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens carry a pre-established operator identity; the chat engine never
// performs interactive authentication itself.

type Claims struct {
	OperatorID string `json:"operator_id"`
	Label      string `json:"label"`
	jwt.RegisteredClaims
}

type contextKey string

const OperatorKey contextKey = "operator"

const tokenTTL = 24 * time.Hour

// WithClaims stores validated claims on a request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, OperatorKey, claims)
}

// ClaimsFrom retrieves claims stored by WithClaims.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(OperatorKey).(*Claims)
	return claims, ok
}

// GenerateToken signs a token for an operator identity.
func GenerateToken(secret []byte, operatorID, label string) (string, error) {
	claims := &Claims{
		OperatorID: operatorID,
		Label:      label,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken parses and validates an operator token.
func ValidateToken(secret []byte, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}
