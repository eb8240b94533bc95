package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pledgefund/backend/internal/auth"
)

// operatorKey is the gin context key for the authenticated operator name.
const operatorKey = "operator"

// GetOperator returns the authenticated operator name, or empty pre-auth.
func GetOperator(c *gin.Context) string {
	operator, _ := c.Get(operatorKey)
	name, _ := operator.(string)
	return name
}

// RequireOperator validates the bearer token and requires the operator role.
// Resolution moves money; nothing behind this middleware is supporter-facing.
func RequireOperator(jwtManager *auth.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrMissingToken.Error()})
			return
		}

		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
			return
		}

		claims, err := jwtManager.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
			return
		}

		c.Set(operatorKey, claims.Operator)
		c.Next()
	}
}
