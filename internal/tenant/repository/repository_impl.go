package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/inkwellhq/inkwell/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repo{db: db}
}

func (r *repo) GetProject(ctx context.Context, id snowflake.ID) (*domain.Project, error) {
	var project domain.Project
	err := r.db.WithContext(ctx).First(&project, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &project, nil
}

func (r *repo) GetUserAccount(ctx context.Context, id snowflake.ID) (*domain.UserAccount, error) {
	var account domain.UserAccount
	err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repo) ResetProjectUsage(ctx context.Context, id snowflake.ID, at time.Time) error {
	at = at.UTC()
	res := r.db.WithContext(ctx).Model(&domain.Project{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"articles_used":    0,
			"outlines_used":    0,
			"images_used":      0,
			"usage_reset_date": at,
			"updated_at":       at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

func (r *repo) ResetUserUsage(ctx context.Context, id snowflake.ID, at time.Time) error {
	at = at.UTC()
	res := r.db.WithContext(ctx).Model(&domain.UserAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"articles_used":    0,
			"outlines_used":    0,
			"images_used":      0,
			"usage_reset_date": at,
			"updated_at":       at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *repo) IncrementProjectUsage(ctx context.Context, id snowflake.ID, kind domain.ResourceKind) error {
	column, err := usageColumn(kind)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&domain.Project{}).
		Where("id = ?", id).
		Updates(map[string]any{
			column:       gorm.Expr(column+" + ?", 1),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

func (r *repo) IncrementUserUsage(ctx context.Context, id snowflake.ID, kind domain.ResourceKind) error {
	column, err := usageColumn(kind)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&domain.UserAccount{}).
		Where("id = ?", id).
		Updates(map[string]any{
			column:       gorm.Expr(column+" + ?", 1),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *repo) StaleProjects(ctx context.Context, monthStart time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).Model(&domain.Project{}).
		Where("usage_reset_date IS NULL OR usage_reset_date < ?", monthStart.UTC()).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repo) StaleUserAccounts(ctx context.Context, monthStart time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := r.db.WithContext(ctx).Model(&domain.UserAccount{}).
		Where("usage_reset_date IS NULL OR usage_reset_date < ?", monthStart.UTC()).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func usageColumn(kind domain.ResourceKind) (string, error) {
	switch kind {
	case domain.ResourceArticle:
		return "articles_used", nil
	case domain.ResourceOutline:
		return "outlines_used", nil
	case domain.ResourceImage:
		return "images_used", nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidResourceKind, kind)
	}
}
