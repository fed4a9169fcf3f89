package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	generationdomain "github.com/inkwellhq/inkwell/internal/generation/domain"
	tenantdomain "github.com/inkwellhq/inkwell/internal/tenant/domain"
	"github.com/inkwellhq/inkwell/pkg/db/pagination"
	"github.com/inkwellhq/inkwell/pkg/tenantctx"
)

type checkGenerationRequest struct {
	ResourceKind string `json:"resource_kind"`
}

type checkGenerationResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
	Limit   int    `json:"limit"`
	Used    int    `json:"used"`
}

// CheckGenerationLimit answers whether one more generation may start. It
// never blocks the caller on its own; the start endpoint enforces.
func (s *Server) CheckGenerationLimit(c *gin.Context) {
	var req checkGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	kind, err := tenantdomain.ParseResourceKind(req.ResourceKind)
	if err != nil {
		AbortWithError(c, newValidationError("resource_kind", "invalid_resource_kind", "unknown resource kind"))
		return
	}

	scope := tenantctx.ScopeFromContext(c.Request.Context())
	decision := s.checker.CheckLimit(c.Request.Context(), scope, kind)

	c.JSON(http.StatusOK, checkGenerationResponse{
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
		Limit:   decision.Limit,
		Used:    decision.Used,
	})
}

type startGenerationRequest struct {
	ResourceKind string         `json:"resource_kind"`
	ResourceID   string         `json:"resource_id"`
	AIModel      string         `json:"ai_model"`
	Metadata     map[string]any `json:"metadata"`
}

type startGenerationResponse struct {
	Generation *generationdomain.GenerationLog `json:"generation"`
}

// StartGeneration checks the quota and records a started log. A tracking
// write failure does not fail the request; the generation proceeds with a
// null log.
func (s *Server) StartGeneration(c *gin.Context) {
	var req startGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	kind, err := tenantdomain.ParseResourceKind(req.ResourceKind)
	if err != nil {
		AbortWithError(c, newValidationError("resource_kind", "invalid_resource_kind", "unknown resource kind"))
		return
	}

	scope := tenantctx.ScopeFromContext(c.Request.Context())
	decision := s.checker.CheckLimit(c.Request.Context(), scope, kind)
	if !decision.Allowed {
		AbortWithError(c, ErrQuotaExceeded)
		return
	}

	record, err := s.tracker.LogStart(c.Request.Context(), generationdomain.StartRequest{
		Scope:        scope,
		ResourceKind: kind,
		ResourceID:   req.ResourceID,
		AIModel:      req.AIModel,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, startGenerationResponse{Generation: record})
}

type completeGenerationRequest struct {
	AIModel    string `json:"ai_model"`
	DurationMS int64  `json:"duration_ms"`
}

func (s *Server) CompleteGeneration(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_request", "malformed generation id"))
		return
	}

	var req completeGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.DurationMS < 0 {
		AbortWithError(c, newValidationError("duration_ms", "invalid_request", "duration must not be negative"))
		return
	}

	duration := time.Duration(req.DurationMS) * time.Millisecond
	if err := s.tracker.LogSuccess(c.Request.Context(), id, req.AIModel, duration); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(generationdomain.StatusSuccess)})
}

type failGenerationRequest struct {
	ErrorMessage string `json:"error_message"`
}

func (s *Server) FailGeneration(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_request", "malformed generation id"))
		return
	}

	var req failGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.tracker.LogFailure(c.Request.Context(), id, req.ErrorMessage); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(generationdomain.StatusFailed)})
}

type listGenerationsQuery struct {
	Status string `form:"status"`
	pagination.Pagination
}

func (s *Server) ListGenerations(c *gin.Context) {
	var query listGenerationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := generationdomain.Status(strings.ToLower(strings.TrimSpace(query.Status)))
	switch status {
	case "", generationdomain.StatusStarted, generationdomain.StatusSuccess, generationdomain.StatusFailed:
	default:
		AbortWithError(c, newValidationError("status", "invalid_request", "unknown status"))
		return
	}

	scope := tenantctx.ScopeFromContext(c.Request.Context())
	resp, err := s.tracker.List(c.Request.Context(), generationdomain.ListLogsRequest{
		Scope:      scope,
		Status:     status,
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
