package db

import (
	"github.com/inkwellhq/inkwell/internal/config"
	obslogger "github.com/inkwellhq/inkwell/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

// New opens the gorm connection with the zap SQL logger, OTel tracing and
// prometheus pool stats.
func New(p Params) (*gorm.DB, error) {
	dialector, err := Dialect(p.Cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:         obslogger.NewGormLogger(obslogger.DefaultGormLoggerConfig()),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Use(otelgorm.NewPlugin()); err != nil {
		return nil, err
	}
	if err := conn.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          p.Cfg.DBName,
		RefreshInterval: 15,
	})); err != nil {
		return nil, err
	}

	pool := poolConfig(p.Cfg)
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(pool.MaxIdleConn)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConn)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	p.Log.Info("database connected",
		zap.String("type", p.Cfg.DBType),
		zap.String("name", p.Cfg.DBName),
	)
	return conn, nil
}

var Module = fx.Module("db",
	fx.Provide(New),
)
