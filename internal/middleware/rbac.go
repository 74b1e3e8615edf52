package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/hostel-announce-api/internal/models"
	appErrors "github.com/noah-isme/hostel-announce-api/pkg/errors"
	"github.com/noah-isme/hostel-announce-api/pkg/response"
)

// SelfRole is the pseudo-role granting access when the authenticated user is
// the resource owner named by the :id path parameter.
const SelfRole = "SELF"

// RBAC restricts a route to the given roles. The pseudo-role SelfRole
// additionally admits requests whose :id path parameter matches the caller.
func RBAC(allowed ...string) gin.HandlerFunc {
	roles := make(map[models.UserRole]struct{}, len(allowed))
	allowSelf := false
	for _, name := range allowed {
		if name == SelfRole {
			allowSelf = true
			continue
		}
		roles[models.UserRole(name)] = struct{}{}
	}

	return func(c *gin.Context) {
		raw, ok := c.Get(ContextUserKey)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := raw.(*models.JWTClaims)

		if _, ok := roles[claims.Role]; ok {
			c.Next()
			return
		}
		if allowSelf && claims.UserID != "" && c.Param("id") == claims.UserID {
			c.Next()
			return
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequireRoles adapts typed roles to RBAC.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return RBAC(names...)
}
