package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetEntitlement(c *gin.Context) {
	principal, _ := principalFromGin(c)
	view, err := s.plans.Get(c.Request.Context(), principal.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "entitlement": view})
}
