package migration

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	alertdomain "github.com/inkwellhq/inkwell/internal/alert/domain"
	"github.com/inkwellhq/inkwell/internal/config"
	generationdomain "github.com/inkwellhq/inkwell/internal/generation/domain"
	tenantdomain "github.com/inkwellhq/inkwell/internal/tenant/domain"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// The versioned migrations are written for postgres. Other
			// dialects are for development, where the model schema is
			// authoritative.
			return conn.AutoMigrate(
				&tenantdomain.Project{},
				&tenantdomain.UserAccount{},
				&generationdomain.GenerationLog{},
				&alertdomain.AdminAlert{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
