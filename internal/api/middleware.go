package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"payment-service/internal/logcontext"
)

const userIDKey = "userId"

type claims struct {
	Sub string `json:"sub"`
	jwt.RegisteredClaims
}

// RequireAuth resolves the caller identity from a bearer token and
// rejects the request when it is absent or invalid.
func RequireAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "missing bearer token"))
			return
		}

		token, err := jwt.ParseWithClaims(strings.TrimPrefix(h, "Bearer "), &claims{}, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "invalid token"))
			return
		}

		cl, ok := token.Claims.(*claims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "invalid token"))
			return
		}
		userID, err := uuid.Parse(cl.Sub)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "invalid subject"))
			return
		}

		c.Set(userIDKey, userID)

		ctx := logcontext.AppendCtx(c.Request.Context(), slog.String("userId", userID.String()))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func callerID(c *gin.Context) uuid.UUID {
	v, _ := c.Get(userIDKey)
	id, _ := v.(uuid.UUID)
	return id
}
