package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const actorContextKey = "auth.actor"

// Middleware authenticates the bearer token and stores the actor on the
// request context. Requests without a valid token are rejected.
func Middleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		actor, err := ParseToken(secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(actorContextKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := v.(Actor)
	return actor, ok
}
