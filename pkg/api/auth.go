package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stakeops/warden/pkg/types"
)

// requireAuth enforces the bearer token on every route in its group.
// An empty configured key rejects everything; the agent never runs
// open by accident.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || s.apiKey == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.AgentResponse{
				Success: false,
				Error:   types.ErrAuthFailed.Error(),
			})
			return
		}
		c.Next()
	}
}
