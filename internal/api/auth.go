package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the client holding a control token.
type Claims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 control token for client, valid for ttl.
func IssueToken(secret, client string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   client,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTAuth requires a valid bearer token. Browsers cannot set headers on a
// WebSocket, so an access_token query parameter is accepted too.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearer(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims, ok := token.Claims.(*Claims); ok {
			c.Set("client", claims.Client)
		}
		c.Next()
	}
}

func bearer(c *gin.Context) (string, error) {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.Split(h, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", fmt.Errorf("invalid authorization header format")
		}
		return parts[1], nil
	}
	if q := c.Query("access_token"); q != "" {
		return q, nil
	}
	return "", fmt.Errorf("authorization required")
}
