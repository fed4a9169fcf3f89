// Package service persists admin alerts.
package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwellhq/inkwell/internal/alert/domain"
	"github.com/inkwellhq/inkwell/internal/clock"
	obsmetrics "github.com/inkwellhq/inkwell/internal/observability/metrics"
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
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type service struct {
	store   repository.Repository[domain.AdminAlert]
	log     *zap.Logger
	node    *snowflake.Node
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func New(p ServiceParam) domain.Emitter {
	return &service{
		store:   repository.ProvideStore[domain.AdminAlert](p.DB),
		log:     p.Log.Named("alert.service"),
		node:    p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *service) Raise(ctx context.Context, req domain.RaiseRequest) error {
	if req.Type == "" {
		return domain.ErrInvalidAlertType
	}

	record := &domain.AdminAlert{
		ID:           s.node.Generate(),
		Type:         req.Type,
		Title:        req.Title,
		Message:      req.Message,
		ResourceKind: req.ResourceKind,
		ResourceID:   req.ResourceID,
		CreatedAt:    s.clock.Now(),
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
		return err
	}
	s.metrics.RecordAlertRaised(ctx, string(req.Type))
	return nil
}

func (s *service) List(ctx context.Context, req domain.ListRequest) (*domain.ListResponse, error) {
	filter := &domain.AdminAlert{Type: req.Type}

	size := req.Pagination.PageSize
	if size <= 0 {
		size = 50
	}

	alerts, err := s.store.Find(ctx, filter, option.ApplyPagination(req.Pagination))
	if err != nil {
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(alerts, int32(size), func(a *domain.AdminAlert) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        a.ID.String(),
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			s.log.Warn("failed to encode page cursor", zap.Error(err))
			return ""
		}
		return token
	})

	if len(alerts) > size {
		alerts = alerts[:size]
	}

	return &domain.ListResponse{Alerts: alerts, PageInfo: pageInfo}, nil
}
