package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxProducerClaims = "rlog_producer_claims"

// RequireProducer returns a Gin middleware that enforces a valid Bearer
// producer token. On success the claims are stored in the context.
func RequireProducer(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer producer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxProducerClaims, claims)
		c.Next()
	}
}

// ProducerFromCtx returns the producer name set by RequireProducer, or ""
// when the route is unauthenticated.
func ProducerFromCtx(c *gin.Context) string {
	v, _ := c.Get(ctxProducerClaims)
	claims, _ := v.(*ProducerClaims)
	if claims == nil {
		return ""
	}
	return claims.Producer
}
