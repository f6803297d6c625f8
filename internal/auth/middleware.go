package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/raygc/pintintin/internal/errors"
)

// RoleHeader carries the acting party's role signal. The server trusts it;
// authenticating the party happened at login.
const RoleHeader = "X-Pintintin-Role"

const ctxRoleKey = "pintintin/role"

// Middleware resolves the role signal of every request.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxRoleKey, ParseRole(c.GetHeader(RoleHeader)))
		c.Next()
	}
}

// RoleOf returns the request's resolved role.
func RoleOf(c *gin.Context) Role {
	if r, ok := c.Get(ctxRoleKey); ok {
		return r.(Role)
	}
	return RoleGuest
}

// RequireMutate rejects observers.
func RequireMutate() gin.HandlerFunc {
	return requireCapability(Role.CanMutate, "changing game state")
}

// RequireAdmin rejects everyone but administrators.
func RequireAdmin() gin.HandlerFunc {
	return requireCapability(Role.CanAdministrate, "administrative actions")
}

func requireCapability(can func(Role) bool, what string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if role := RoleOf(c); !can(role) {
			e := errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("role %q is not allowed %s", role, what))
			c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
			return
		}
		c.Next()
	}
}
