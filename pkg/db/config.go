package db

import (
	"time"

	"github.com/inkwellhq/inkwell/internal/config"
)

// Config carries connection pool settings resolved from app config.
type Config struct {
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func poolConfig(cfg config.Config) Config {
	out := Config{
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
	}
	if out.MaxIdleConn <= 0 {
		out.MaxIdleConn = 5
	}
	if out.MaxOpenConn <= 0 {
		out.MaxOpenConn = 25
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	return out
}
