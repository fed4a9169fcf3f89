package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkwellhq/inkwell/internal/quota"
	"github.com/inkwellhq/inkwell/pkg/tenantctx"
)

type usageResponse struct {
	Scope string                `json:"scope"`
	Usage []quota.UsageSnapshot `json:"usage"`
}

// GetUsage reports the stored monthly tallies and limits for the tenant
// named by the request headers.
func (s *Server) GetUsage(c *gin.Context) {
	scope := tenantctx.ScopeFromContext(c.Request.Context())
	if !scope.Metered() {
		AbortWithError(c, newValidationError("tenant", "invalid_request", "a tenant header is required"))
		return
	}

	usage, err := s.checker.Usage(c.Request.Context(), scope)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, usageResponse{
		Scope: scope.String(),
		Usage: usage,
	})
}
