package storage

import (
	"fmt"
	"path/filepath"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"tg-guardian/internal/config"
	"tg-guardian/internal/logger"
)

var (
	// DB is the global database connection
	DB *gorm.DB
)

// Initialize opens the configured database, migrates every table and stores
// the connection in DB. It does nothing when the database is disabled.
func Initialize(cfg *config.Config) error {
	if !cfg.Database.Enabled {
		logger.Info("Database support is disabled")
		return nil
	}
	db, err := Open(cfg.Database, cfg.Logger.Level)
	if err != nil {
		return err
	}
	if err := MigrateAll(db); err != nil {
		return err
	}
	DB = db
	return nil
}

// Open connects to the database described by cfg and applies pool settings.
func Open(cfg config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	dialector, where, err := dialector(cfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("Connecting to %s database: %s", cfg.Driver, where)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newQueryLogger(logLevel, cfg.SlowQuery),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get SQL DB: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	logger.Info("Database connection established successfully")
	return db, nil
}

func dialector(cfg config.DatabaseConfig) (gorm.Dialector, string, error) {
	switch cfg.Driver {
	case "mysql":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
				cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.Charset)
		}
		return mysql.Open(dsn), fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.DBName), nil
	case "postgres":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
				cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.DBName)
		}
		return postgres.Open(dsn), fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.DBName), nil
	case "sqlite":
		path := cfg.DSN
		if path == "" {
			path = cfg.DBName + ".db"
		}
		return sqlite.Open(path), filepath.Clean(path), nil
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// MigrateAll creates or updates every table the bot uses.
func MigrateAll(db *gorm.DB) error {
	migrators := []interface{ MigrateTable() error }{
		NewSettingsRepository(db),
		NewRoleRepository(db),
		NewGBanRepository(db),
		NewVerificationRepository(db),
		NewPendingMsgRepository(db),
		NewModerationLogRepository(db),
		NewKeywordRepository(db),
		NewWelcomeRepository(db),
	}
	for _, m := range migrators {
		if err := m.MigrateTable(); err != nil {
			return fmt.Errorf("migrate %T: %w", m, err)
		}
	}
	return nil
}

// GetDB returns the database connection
func GetDB() *gorm.DB {
	return DB
}

// IsEnabled returns true if database support is enabled
func IsEnabled(cfg *config.Config) bool {
	return cfg.Database.Enabled
}
