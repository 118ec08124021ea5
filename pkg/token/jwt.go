// Package token issues and verifies the JWTs that guard the AI routes.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin may trigger indexing and recovery.
const RoleAdmin = "ADMIN"

// JWTManager signs and verifies HS256 tokens.
type JWTManager struct {
	secretKey      []byte
	accessTokenDur time.Duration
}

// CustomClaims carries the caller identity. CommunityID is nil for staff
// accounts that are not tied to one community.
type CustomClaims struct {
	UserID      string  `json:"userId"`
	Username    string  `json:"username"`
	Role        string  `json:"role"`
	CommunityID *string `json:"communityId,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the caller holds the admin role.
func (c *CustomClaims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// NewJWTManager signs HS256 tokens valid for accessTokenExpireHours.
func NewJWTManager(secret string, accessTokenExpireHours int) *JWTManager {
	if accessTokenExpireHours <= 0 {
		accessTokenExpireHours = 24
	}
	return &JWTManager{
		secretKey:      []byte(secret),
		accessTokenDur: time.Hour * time.Duration(accessTokenExpireHours),
	}
}

// GenerateToken signs an access token for the given identity.
func (m *JWTManager) GenerateToken(userID, username, role string, communityID *string) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID:      userID,
		Username:    username,
		Role:        role,
		CommunityID: communityID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTokenDur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken returns the claims of a valid, unexpired token.
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
