package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/avolkov/huddle/internal/domain"
)

// RoomClaims bind a join token to one room and one participant identity.
// The token is minted by the join endpoint after the password check and is
// the only thing that lets a connection reach the signaling endpoint.
type RoomClaims struct {
	RoomID      string `json:"room_id"`
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

func mintRoomToken(secret string, ttl time.Duration, room domain.RoomID, user domain.User) (string, error) {
	claims := RoomClaims{
		RoomID:      string(room),
		Identity:    string(user.ID),
		DisplayName: user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// RoomTokenAuth validates the join token and stashes its claims in the gin
// context. Browsers cannot set headers on websocket upgrades, so the token
// is also accepted as a query parameter.
func RoomTokenAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "room token required"})
			return
		}

		claims := &RoomClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid room token"})
			return
		}

		c.Set("room_id", claims.RoomID)
		c.Set("identity", claims.Identity)
		c.Set("display_name", claims.DisplayName)
		c.Next()
	}
}
