// Package domain contains persistence models for tenant usage records.
package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Tier names a subscription plan. The effective limits for a tier come from
// the plan config, not from the tier value itself.
type Tier string

const (
	TierFree         Tier = "free"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

func ParseTier(raw string) Tier {
	return Tier(strings.ToLower(strings.TrimSpace(raw)))
}

// ResourceKind is the kind of content a generation produces.
type ResourceKind string

const (
	ResourceArticle ResourceKind = "article"
	ResourceOutline ResourceKind = "outline"
	ResourceImage   ResourceKind = "image"
)

var ErrInvalidResourceKind = errors.New("invalid_resource_kind")

func ParseResourceKind(raw string) (ResourceKind, error) {
	switch ResourceKind(strings.ToLower(strings.TrimSpace(raw))) {
	case ResourceArticle:
		return ResourceArticle, nil
	case ResourceOutline:
		return ResourceOutline, nil
	case ResourceImage:
		return ResourceImage, nil
	default:
		return "", ErrInvalidResourceKind
	}
}

// Project is a shared workspace whose usage counters are billed as a unit.
type Project struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	Name           string       `gorm:"type:text;not null"`
	Tier           Tier         `gorm:"type:text;not null;default:'free'"`
	ArticlesUsed   int          `gorm:"not null;default:0"`
	OutlinesUsed   int          `gorm:"not null;default:0"`
	ImagesUsed     int          `gorm:"not null;default:0"`
	UsageResetDate *time.Time
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Project) TableName() string { return "projects" }

func (p *Project) UsedFor(kind ResourceKind) int {
	switch kind {
	case ResourceArticle:
		return p.ArticlesUsed
	case ResourceOutline:
		return p.OutlinesUsed
	case ResourceImage:
		return p.ImagesUsed
	default:
		return 0
	}
}

// UserAccount carries personal usage counters for generations made outside
// any project.
type UserAccount struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	Email          string       `gorm:"type:text;not null;uniqueIndex"`
	Tier           Tier         `gorm:"type:text;not null;default:'free'"`
	ArticlesUsed   int          `gorm:"not null;default:0"`
	OutlinesUsed   int          `gorm:"not null;default:0"`
	ImagesUsed     int          `gorm:"not null;default:0"`
	UsageResetDate *time.Time
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UserAccount) TableName() string { return "user_accounts" }

func (u *UserAccount) UsedFor(kind ResourceKind) int {
	switch kind {
	case ResourceArticle:
		return u.ArticlesUsed
	case ResourceOutline:
		return u.OutlinesUsed
	case ResourceImage:
		return u.ImagesUsed
	default:
		return 0
	}
}
