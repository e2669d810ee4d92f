package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/supportdesk/orchestrator/internal/common"
)

func NewRouter(jwtSecret string, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID())
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, http.StatusNotFound, "not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	authed := r.Group("/", AuthRequired(jwtSecret))
	{
		authed.POST("/tickets", h.CreateTicket)
		authed.GET("/tickets/:ticket_id", h.GetTicket)
		authed.POST("/tickets/:ticket_id/messages", h.SendMessage)
		authed.GET("/tickets/:ticket_id/messages", h.ListMessages)
		authed.PUT("/tickets/:ticket_id/typing", h.StartTyping)
		authed.DELETE("/tickets/:ticket_id/typing", h.StopTyping)

		agents := authed.Group("/", AgentOnly())
		agents.POST("/tickets/:ticket_id/claim", h.Claim)
		agents.POST("/tickets/:ticket_id/terminate", h.Terminate)
	}

	return r
}
