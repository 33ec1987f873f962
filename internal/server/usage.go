package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetUsage reports the caller's remaining quota for today without
// consuming any.
func (s *Server) GetUsage(c *gin.Context) {
	decision, err := s.usage.Check(c.Request.Context(), caller(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}
