// Package domain contains the admin alert model and service contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	tenantdomain "github.com/inkwellhq/inkwell/internal/tenant/domain"
	"github.com/inkwellhq/inkwell/pkg/db/pagination"
)

// AlertType names the condition an alert reports.
type AlertType string

const (
	AlertGenerationFailed AlertType = "generation_failed"
)

var ErrInvalidAlertType = errors.New("invalid_alert_type")

// AdminAlert is a persisted notification for operators. Alerts are advisory;
// nothing in the request path depends on one being written.
type AdminAlert struct {
	ID           snowflake.ID              `gorm:"primaryKey" json:"id"`
	Type         AlertType                 `gorm:"type:text;not null;index" json:"type"`
	Title        string                    `gorm:"type:text;not null" json:"title"`
	Message      string                    `gorm:"type:text;not null" json:"message"`
	ProjectID    *snowflake.ID             `gorm:"index" json:"project_id,omitempty"`
	UserID       *snowflake.ID             `gorm:"index" json:"user_id,omitempty"`
	ResourceKind tenantdomain.ResourceKind `gorm:"type:text" json:"resource_kind,omitempty"`
	ResourceID   string                    `gorm:"type:text" json:"resource_id,omitempty"`
	CreatedAt    time.Time                 `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName sets the database table name.
func (AdminAlert) TableName() string { return "admin_alerts" }

// RaiseRequest describes an alert to record.
type RaiseRequest struct {
	Type         AlertType
	Title        string
	Message      string
	Scope        tenantdomain.TenantScope
	ResourceKind tenantdomain.ResourceKind
	ResourceID   string
}

type ListRequest struct {
	Type       AlertType
	Pagination pagination.Pagination
}

type ListResponse struct {
	Alerts   []*AdminAlert        `json:"alerts"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

// Emitter records and lists admin alerts.
type Emitter interface {
	Raise(ctx context.Context, req RaiseRequest) error
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
}
