// Package option provides composable gorm query modifiers for the generic
// repository.
package option

import (
	"strings"
	"time"

	"github.com/inkwellhq/inkwell/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption mutates a gorm statement before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type queryFn func(*gorm.DB) *gorm.DB

func (f queryFn) Apply(db *gorm.DB) *gorm.DB { return f(db) }

func WithLimit(n int) QueryOption {
	return queryFn(func(db *gorm.DB) *gorm.DB { return db.Limit(n) })
}

func WithOrder(expr string) QueryOption {
	return queryFn(func(db *gorm.DB) *gorm.DB { return db.Order(expr) })
}

// ApplyPagination decodes the cursor token, filters to rows older than the
// cursor and fetches one extra row so callers can detect a next page.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return queryFn(func(db *gorm.DB) *gorm.DB {
		size := p.PageSize
		if size <= 0 {
			size = 50
		}
		if size > 250 {
			size = 250
		}
		if token := strings.TrimSpace(p.PageToken); token != "" {
			if cursor, err := pagination.DecodeCursor(token); err == nil && cursor.CreatedAt != "" {
				if ts, tsErr := time.Parse(time.RFC3339, cursor.CreatedAt); tsErr == nil {
					db = db.Where("created_at < ?", ts)
				}
			}
		}
		return db.Order("created_at DESC").Limit(size + 1)
	})
}
