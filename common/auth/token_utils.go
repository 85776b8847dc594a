package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// Claims identifies the caller of an order operation.
type Claims struct {
	UserID string
	Role   string
	Email  string
}

// ParseAndValidateToken parses an HMAC-signed JWT and returns the caller
// identity it carries. If expectedType is non-empty, the claim "typ" must
// match it.
func ParseAndValidateToken(tokenStr string, secret []byte, expectedType string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("JWT secret not configured")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, fmt.Errorf("invalid or expired token")
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	if expectedType != "" {
		if typ, ok := mc["typ"].(string); !ok || typ != expectedType {
			return nil, fmt.Errorf("invalid token type")
		}
	}

	claims := &Claims{}
	claims.UserID, _ = mc["sub"].(string)
	if claims.UserID == "" {
		claims.UserID, _ = mc["user_id"].(string)
	}
	claims.Role, _ = mc["role"].(string)
	claims.Email, _ = mc["email"].(string)
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
