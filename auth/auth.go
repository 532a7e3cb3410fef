package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// RoleAdmin may act on devices owned by anyone
const RoleAdmin = "admin"

// Identity is the caller behind a bearer token
type Identity struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the identity carries the admin role
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type AuthModule struct {
	JWTSecret string
}

func NewAuthModule(JWTSecret string) *AuthModule {
	return &AuthModule{JWTSecret: JWTSecret}
}

// ValidateTokenJWT verifies an HS256 token, with or without the "Bearer "
// prefix, and returns the identity in its claims. Tokens are issued by the
// account service; this module only checks them.
func (a *AuthModule) ValidateTokenJWT(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return Identity{}, fmt.Errorf("%w: no token provided", ErrUnauthorized)
	}

	parsedToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.JWTSecret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok || !parsedToken.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	userID := claimString(claims, "userId")
	if userID == "" {
		userID = claimString(claims, "user_id")
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: invalid user id in token", ErrUnauthorized)
	}
	role := claimString(claims, "role")
	if role == "" {
		role = "user"
	}
	return Identity{UserID: userID, Role: role}, nil
}

// claimString reads a claim that may be encoded as a string or a number
func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int64(v))
	}
	return ""
}
