package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/yoockh/hintline/internal/utils"
)

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func abort(c *gin.Context, code utils.Code, msg string) {
	c.AbortWithStatusJSON(utils.HTTPStatus(utils.E(code, "", msg, nil)), apiError{Code: code, Message: msg})
}

// Claims is what an operator token carries. Role defaults to "viewer".
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTAuth accepts HS256 bearer tokens signed with secret. The WebSocket
// route may pass the token as ?access_token= since browsers cannot set headers.
func JWTAuth(secret string) gin.HandlerFunc {
	key := []byte(secret)

	return func(c *gin.Context) {
		raw := ""
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			raw = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		} else if q := c.Query("access_token"); q != "" {
			raw = q
		}
		if raw == "" {
			abort(c, utils.CodeUnauthorized, "missing bearer token")
			return
		}

		claims := &Claims{}
		tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || tok == nil || !tok.Valid {
			abort(c, utils.CodeUnauthorized, "invalid token")
			return
		}

		if claims.Subject == "" {
			abort(c, utils.CodeUnauthorized, "missing subject")
			return
		}
		role := strings.ToLower(strings.TrimSpace(claims.Role))
		if role == "" {
			role = "viewer"
		}

		c.Set("subject", claims.Subject)
		c.Set("role", role)
		c.Next()
	}
}
