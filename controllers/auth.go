package controllers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/zaprent/depositapi/escrow"
)

// Claims is what the marketplace's auth service puts in its tokens: the
// user id and one of tenant/landlord/admin.
type Claims struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken signs a short-lived HS256 token for a user.
func GenerateToken(secret string, userID uint, role string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	return token.SignedString([]byte(secret))
}

// currentUser parses the Authorization header and returns the caller's
// claims. On any failure it writes the 401 itself and returns false.
func (b *Base) currentUser(c *gin.Context) (*Claims, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.JSON(401, gin.H{"error": "no auth token found"})
		return nil, false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[1] == "" {
		c.JSON(401, gin.H{"error": "no auth token found"})
		return nil, false
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(b.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		c.JSON(401, gin.H{"error": "invalid auth token"})
		return nil, false
	}
	return claims, true
}

// actorFrom converts claims into the state machine's actor shape.
func actorFrom(claims *Claims) escrow.Actor {
	return escrow.Actor{UserID: claims.UserID, Role: claims.Role}
}
