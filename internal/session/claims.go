package session

import (
	"github.com/golang-jwt/jwt/v5"

	"edugate/internal/domain"
)

// RoleFromToken decodes the role claim from an access token payload without
// verifying the signature. The result pre-filters requests for UX only; the
// server remains the authorization boundary for every call.
func RoleFromToken(token string) domain.Role {
	if token == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	role, _ := claims["role"].(string)
	return domain.Role(role)
}
