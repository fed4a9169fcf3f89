package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	obscontext "github.com/inkwellhq/inkwell/internal/observability/context"
	tenantdomain "github.com/inkwellhq/inkwell/internal/tenant/domain"
	"github.com/inkwellhq/inkwell/pkg/tenantctx"
)

const (
	headerProjectID = "X-Project-Id"
	headerUserID    = "X-User-Id"
)

// TenantContext resolves the tenant scope from the request headers. A
// request names at most one tenant; both headers at once is a client bug.
// No headers means an unscoped request, which is valid and unmetered.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		projectRaw := strings.TrimSpace(c.GetHeader(headerProjectID))
		userRaw := strings.TrimSpace(c.GetHeader(headerUserID))

		if projectRaw != "" && userRaw != "" {
			AbortWithError(c, newValidationError("tenant", "invalid_request", "at most one of X-Project-Id and X-User-Id may be set"))
			return
		}

		scope := tenantdomain.NoScope()
		switch {
		case projectRaw != "":
			id, err := snowflake.ParseString(projectRaw)
			if err != nil {
				AbortWithError(c, newValidationError("project_id", "invalid_request", "malformed project id"))
				return
			}
			scope = tenantdomain.ProjectScope(id)
		case userRaw != "":
			id, err := snowflake.ParseString(userRaw)
			if err != nil {
				AbortWithError(c, newValidationError("user_id", "invalid_request", "malformed user id"))
				return
			}
			scope = tenantdomain.PersonalScope(id)
		}

		ctx := tenantctx.WithScope(c.Request.Context(), scope)
		ctx = obscontext.WithTenant(ctx, scope.String())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}
