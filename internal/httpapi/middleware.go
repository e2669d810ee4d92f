package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/supportdesk/orchestrator/internal/auth"
	"github.com/supportdesk/orchestrator/internal/common"
)

// Context keys set by AuthRequired.
const (
	CtxUserID   = "user_id"
	CtxUserName = "user_name"
	CtxUserRole = "user_role"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// AuthRequired verifies the bearer token and stashes the caller's
// identity on the request context. Identity comes before any quota
// check, so an unauthenticated caller never consumes a rate slot.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			common.Fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "missing bearer token")
			c.Abort()
			return
		}
		claims, err := auth.ParseToken(secret, token)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUserName, claims.Name)
		c.Set(CtxUserRole, claims.Role)
		c.Next()
	}
}

// AgentOnly gates claim/terminate behind the agent role.
func AgentOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxUserRole) != "agent" {
			common.Fail(c, http.StatusForbidden, http.StatusForbidden, "agent role required")
			c.Abort()
			return
		}
		c.Next()
	}
}
