package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/hintline/internal/utils"
)

// RequireRole lets through requests whose token role is one of allowed.
// It must run after JWTAuth.
func RequireRole(allowed ...string) gin.HandlerFunc {
	allow := map[string]struct{}{}
	for _, a := range allowed {
		a = strings.TrimSpace(strings.ToLower(a))
		if a != "" {
			allow[a] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		role := c.GetString("role")
		if _, ok := allow[role]; !ok {
			abort(c, utils.CodeForbidden, "forbidden")
			return
		}
		c.Next()
	}
}

// RequireOperator guards routes that change pipeline or session state.
func RequireOperator() gin.HandlerFunc { return RequireRole("operator", "admin") }
