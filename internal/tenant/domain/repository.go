package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrProjectNotFound = errors.New("project_not_found")
	ErrUserNotFound    = errors.New("user_not_found")
)

// Repository owns reads and counter mutations on tenant usage records.
// Lookups return (nil, nil) when the row does not exist.
type Repository interface {
	GetProject(ctx context.Context, id snowflake.ID) (*Project, error)
	GetUserAccount(ctx context.Context, id snowflake.ID) (*UserAccount, error)

	// ResetProjectUsage zeroes all counters and stamps the reset date in a
	// single statement.
	ResetProjectUsage(ctx context.Context, id snowflake.ID, at time.Time) error
	ResetUserUsage(ctx context.Context, id snowflake.ID, at time.Time) error

	IncrementProjectUsage(ctx context.Context, id snowflake.ID, kind ResourceKind) error
	IncrementUserUsage(ctx context.Context, id snowflake.ID, kind ResourceKind) error

	// StaleProjects returns ids whose reset date is unset or before monthStart.
	StaleProjects(ctx context.Context, monthStart time.Time, limit int) ([]snowflake.ID, error)
	StaleUserAccounts(ctx context.Context, monthStart time.Time, limit int) ([]snowflake.ID, error)
}
