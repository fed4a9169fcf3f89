// Package domain contains the generation lifecycle model and the tracker
// contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"

	tenantdomain "github.com/inkwellhq/inkwell/internal/tenant/domain"
	"github.com/inkwellhq/inkwell/pkg/db/pagination"
)

// Status tracks a generation attempt through its lifecycle. An attempt
// starts as started and closes exactly once, to success or failed.
type Status string

const (
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

const (
	// MaxErrorMessageLen bounds stored failure messages in bytes.
	MaxErrorMessageLen = 2000

	// SuccessCostCredits is the flat per-generation charge on success.
	SuccessCostCredits = 1
)

var (
	ErrLogNotFound = errors.New("generation_log_not_found")
	ErrLogClosed   = errors.New("generation_log_closed")
)

// GenerationLog records one generation attempt. At most one of ProjectID and
// UserID is set; both nil means the attempt was unscoped.
type GenerationLog struct {
	ID           snowflake.ID              `gorm:"primaryKey" json:"id"`
	ProjectID    *snowflake.ID             `gorm:"index" json:"project_id,omitempty"`
	UserID       *snowflake.ID             `gorm:"index" json:"user_id,omitempty"`
	ResourceKind tenantdomain.ResourceKind `gorm:"type:text;not null" json:"resource_kind"`
	ResourceID   string                    `gorm:"type:text" json:"resource_id,omitempty"`
	Status       Status                    `gorm:"type:text;not null;default:'started';index" json:"status"`
	AIModel      string                    `gorm:"type:text" json:"ai_model,omitempty"`
	DurationMS   int64                     `gorm:"not null;default:0" json:"duration_ms"`
	CostCredits  int                       `gorm:"not null;default:0" json:"cost_credits"`
	ErrorMessage *string                   `gorm:"type:text" json:"error_message,omitempty"`
	Metadata     datatypes.JSONMap         `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time                 `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt    time.Time                 `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	CompletedAt  *time.Time                `json:"completed_at,omitempty"`
}

// TableName sets the database table name.
func (GenerationLog) TableName() string { return "generation_logs" }

// Scope reconstructs the tenant scope the attempt was billed against.
func (g *GenerationLog) Scope() tenantdomain.TenantScope {
	if g.ProjectID != nil {
		return tenantdomain.ProjectScope(*g.ProjectID)
	}
	if g.UserID != nil {
		return tenantdomain.PersonalScope(*g.UserID)
	}
	return tenantdomain.NoScope()
}

// StartRequest describes a generation attempt about to run.
type StartRequest struct {
	Scope        tenantdomain.TenantScope
	ResourceKind tenantdomain.ResourceKind
	ResourceID   string
	AIModel      string
	Metadata     map[string]any
}

type ListLogsRequest struct {
	Scope      tenantdomain.TenantScope
	Status     Status
	Pagination pagination.Pagination
}

type ListLogsResponse struct {
	Logs     []*GenerationLog     `json:"logs"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

// Tracker is the single entry point callers use around a generation attempt:
// check the quota, record the start, then close the log exactly once.
type Tracker interface {
	// LogStart records a new started log. It never gates the attempt: if the
	// write fails the attempt proceeds unlogged and LogStart returns
	// (nil, nil).
	LogStart(ctx context.Context, req StartRequest) (*GenerationLog, error)

	// LogSuccess closes the log as success and charges the tenant's monthly
	// usage. Returns ErrLogClosed if the log already reached a terminal
	// status.
	LogSuccess(ctx context.Context, id snowflake.ID, aiModel string, duration time.Duration) error

	// LogFailure closes the log as failed and raises an admin alert. No
	// usage is charged.
	LogFailure(ctx context.Context, id snowflake.ID, message string) error

	List(ctx context.Context, req ListLogsRequest) (*ListLogsResponse, error)

	// StaleStarted returns ids of started logs created before the cutoff.
	StaleStarted(ctx context.Context, cutoff time.Time, limit int) ([]snowflake.ID, error)
}
