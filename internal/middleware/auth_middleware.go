package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"fleet-notify/internal/transport/httpdto"
)

// Context keys set by the identity gate
const (
	CtxUserID = "auth_user_id"
	CtxOrgID  = "auth_org_id"
	CtxRole   = "auth_role"
)

// Claims is the accepted token shape. Tokens are issued by the main
// application; this service only verifies them.
type Claims struct {
	OrgID string `json:"org_id"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies the bearer token and stashes the caller
// identity in the gin context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c)
		if token == "" {
			unauthorized(c)
			return
		}

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !parsed.Valid {
			unauthorized(c)
			return
		}

		c.Set(CtxUserID, claims.Subject)
		c.Set(CtxOrgID, claims.OrgID)
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// CallerID returns a stable identifier for the authenticated caller,
// used as the rate limit key.
func CallerID(c *gin.Context) string {
	if id := c.GetString(CtxUserID); id != "" {
		return id
	}
	return c.ClientIP()
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
	c.Abort()
}

func extractBearer(c *gin.Context) string {
	value := c.GetHeader("Authorization")
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
