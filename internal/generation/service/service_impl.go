// Package service implements the generation tracker.
package service

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	alertdomain "github.com/inkwellhq/inkwell/internal/alert/domain"
	"github.com/inkwellhq/inkwell/internal/clock"
	"github.com/inkwellhq/inkwell/internal/generation/domain"
	obsmetrics "github.com/inkwellhq/inkwell/internal/observability/metrics"
	tenantdomain "github.com/inkwellhq/inkwell/internal/tenant/domain"
	"github.com/inkwellhq/inkwell/pkg/db/option"
	"github.com/inkwellhq/inkwell/pkg/db/pagination"
	"github.com/inkwellhq/inkwell/pkg/repository"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    tenantdomain.Repository
	Alerts  alertdomain.Emitter
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	store   repository.Repository[domain.GenerationLog]
	log     *zap.Logger
	node    *snowflake.Node
	clock   clock.Clock
	repo    tenantdomain.Repository
	alerts  alertdomain.Emitter
	metrics *obsmetrics.Metrics
}

func New(p ServiceParam) domain.Tracker {
	return &service{
		db:      p.DB,
		store:   repository.ProvideStore[domain.GenerationLog](p.DB),
		log:     p.Log.Named("generation.service"),
		node:    p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		alerts:  p.Alerts,
		metrics: p.Metrics,
	}
}

func (s *service) LogStart(ctx context.Context, req domain.StartRequest) (*domain.GenerationLog, error) {
	now := s.clock.Now()
	record := &domain.GenerationLog{
		ID:           s.node.Generate(),
		ResourceKind: req.ResourceKind,
		ResourceID:   req.ResourceID,
		Status:       domain.StatusStarted,
		AIModel:      req.AIModel,
		Metadata:     datatypes.JSONMap(req.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Scope.IsProject() {
		id := req.Scope.ID()
		record.ProjectID = &id
	}
	if req.Scope.IsPersonal() {
		id := req.Scope.ID()
		record.UserID = &id
	}

	if err := s.store.Create(ctx, record); err != nil {
		// Tracking is advisory. The attempt proceeds without a log rather
		// than turning a bookkeeping outage into a product outage.
		s.log.Error("generation log write failed, attempt proceeds unlogged",
			zap.String("scope", req.Scope.String()),
			zap.String("resource_kind", string(req.ResourceKind)),
			zap.Error(err),
		)
		s.metrics.RecordGeneration(ctx, string(req.ResourceKind), "unlogged")
		return nil, nil
	}

	s.metrics.RecordGeneration(ctx, string(req.ResourceKind), "started")
	return record, nil
}

func (s *service) LogSuccess(ctx context.Context, id snowflake.ID, aiModel string, duration time.Duration) error {
	record, err := s.store.FindOne(ctx, &domain.GenerationLog{ID: id})
	if err != nil {
		return err
	}
	if record == nil {
		return domain.ErrLogNotFound
	}

	now := s.clock.Now()
	updates := map[string]any{
		"status":       domain.StatusSuccess,
		"duration_ms":  duration.Milliseconds(),
		"cost_credits": domain.SuccessCostCredits,
		"completed_at": now,
		"updated_at":   now,
	}
	if aiModel != "" {
		updates["ai_model"] = aiModel
	}

	// The status guard makes closing idempotent under races: only the first
	// caller transitions the row, everyone else sees zero rows affected.
	res := s.db.WithContext(ctx).
		Model(&domain.GenerationLog{}).
		Where("id = ? AND status = ?", id, domain.StatusStarted).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrLogClosed
	}

	if err := s.chargeUsage(ctx, record); err != nil {
		s.log.Error("usage increment failed after successful generation",
			zap.String("generation_id", id.String()),
			zap.Error(err),
		)
		return err
	}

	s.metrics.RecordGeneration(ctx, string(record.ResourceKind), "success")
	return nil
}

func (s *service) LogFailure(ctx context.Context, id snowflake.ID, message string) error {
	record, err := s.store.FindOne(ctx, &domain.GenerationLog{ID: id})
	if err != nil {
		return err
	}
	if record == nil {
		return domain.ErrLogNotFound
	}

	now := s.clock.Now()
	truncated := truncateError(message)
	res := s.db.WithContext(ctx).
		Model(&domain.GenerationLog{}).
		Where("id = ? AND status = ?", id, domain.StatusStarted).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_message": truncated,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrLogClosed
	}

	if err := s.alerts.Raise(ctx, alertdomain.RaiseRequest{
		Type:         alertdomain.AlertGenerationFailed,
		Title:        "Generation failed",
		Message:      truncated,
		Scope:        record.Scope(),
		ResourceKind: record.ResourceKind,
		ResourceID:   record.ResourceID,
	}); err != nil {
		s.log.Warn("failed to raise generation failure alert",
			zap.String("generation_id", id.String()),
			zap.Error(err),
		)
	}

	s.metrics.RecordGeneration(ctx, string(record.ResourceKind), "failed")
	return nil
}

func (s *service) List(ctx context.Context, req domain.ListLogsRequest) (*domain.ListLogsResponse, error) {
	filter := &domain.GenerationLog{Status: req.Status}
	if req.Scope.IsProject() {
		id := req.Scope.ID()
		filter.ProjectID = &id
	}
	if req.Scope.IsPersonal() {
		id := req.Scope.ID()
		filter.UserID = &id
	}

	size := req.Pagination.PageSize
	if size <= 0 {
		size = 50
	}

	logs, err := s.store.Find(ctx, filter, option.ApplyPagination(req.Pagination))
	if err != nil {
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(logs, int32(size), func(g *domain.GenerationLog) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        g.ID.String(),
			CreatedAt: g.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			s.log.Warn("failed to encode page cursor", zap.Error(err))
			return ""
		}
		return token
	})

	if len(logs) > size {
		logs = logs[:size]
	}

	return &domain.ListLogsResponse{Logs: logs, PageInfo: pageInfo}, nil
}

func (s *service) StaleStarted(ctx context.Context, cutoff time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&domain.GenerationLog{}).
		Where("status = ? AND created_at < ?", domain.StatusStarted, cutoff).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// chargeUsage applies the single authoritative increment for a completed
// generation. The fast counter already ticked at check time and is never
// reconciled against this.
func (s *service) chargeUsage(ctx context.Context, record *domain.GenerationLog) error {
	switch {
	case record.ProjectID != nil:
		return s.repo.IncrementProjectUsage(ctx, *record.ProjectID, record.ResourceKind)
	case record.UserID != nil:
		return s.repo.IncrementUserUsage(ctx, *record.UserID, record.ResourceKind)
	default:
		return nil
	}
}

// truncateError bounds a failure message to MaxErrorMessageLen bytes without
// splitting a multi-byte rune.
func truncateError(message string) string {
	if len(message) <= domain.MaxErrorMessageLen {
		return message
	}
	cut := domain.MaxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
