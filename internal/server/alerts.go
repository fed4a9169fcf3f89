package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	alertdomain "github.com/inkwellhq/inkwell/internal/alert/domain"
	"github.com/inkwellhq/inkwell/pkg/db/pagination"
)

type listAlertsQuery struct {
	Type string `form:"type"`
	pagination.Pagination
}

func (s *Server) ListAdminAlerts(c *gin.Context) {
	var query listAlertsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	alertType := alertdomain.AlertType(strings.ToLower(strings.TrimSpace(query.Type)))
	switch alertType {
	case "", alertdomain.AlertGenerationFailed:
	default:
		AbortWithError(c, newValidationError("type", "invalid_alert_type", "unknown alert type"))
		return
	}

	resp, err := s.alertSvc.List(c.Request.Context(), alertdomain.ListRequest{
		Type:       alertType,
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
