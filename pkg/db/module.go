package db

import (
	"errors"
	"strings"
	"time"

	obslogger "github.com/inkwellhq/inkwell/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrStoreUnavailable is returned at startup when the persistent store is
// not configured. There is no silent in-memory fallback: a misconfigured
// deployment must fail to boot instead of running against a different store.
var ErrStoreUnavailable = errors.New("store_unavailable")

func Validate(cfg Config) error {
	switch cfg.Type {
	case "sqlite":
		if strings.TrimSpace(cfg.Name) == "" {
			return ErrStoreUnavailable
		}
	case "postgres", "mysql":
		if strings.TrimSpace(cfg.Host) == "" || strings.TrimSpace(cfg.Name) == "" || strings.TrimSpace(cfg.User) == "" {
			return ErrStoreUnavailable
		}
	default:
		return ErrStoreUnavailable
	}
	return nil
}

func Open(cfg Config, log *zap.Logger) (*gorm.DB, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	dialect, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialect, &gorm.Config{
		Logger: obslogger.NewGormLogger(obslogger.DefaultGormLoggerConfig()),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)
	}

	return conn, nil
}

var Module = fx.Module("db",
	fx.Provide(Open),
)
