package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/assets_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware puts the bearer token's user into the request context.
// Requests without a token pass through; the counting service rejects them when it needs an actor.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		token, found := strings.CutPrefix(auth, "Bearer ")
		if !found || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"reason": "unauthorized", "message": "malformed authorization header"})
			return
		}

		claim, err := utils.ParseUserToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"reason": "unauthorized", "message": "invalid token"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUserIdInContext(ctx, claim.ID)
		ctx = utils.SetUserNameInContext(ctx, claim.Name)
		ctx = utils.SetUsernameInContext(ctx, claim.Username)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireUser rejects requests that did not carry a valid token.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userId, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok || userId == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"reason": "unauthorized", "message": "login required"})
			return
		}
		c.Next()
	}
}
