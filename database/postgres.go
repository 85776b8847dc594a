package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgresConfig is the connection part of the service config.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string

	ConnectAttempts int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SlowQuery       time.Duration
}

// DSN renders the libpq key/value connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode, c.TimeZone,
	)
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 10
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.SlowQuery <= 0 {
		c.SlowQuery = 200 * time.Millisecond
	}
	return c
}

// zapWriter routes gorm's slow-query and error lines into the service logger.
type zapWriter struct{ log *zap.SugaredLogger }

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.log.Warnf(format, args...)
}

// GormLogger reports queries slower than slow and every SQL error except
// record-not-found, which the repositories translate themselves.
func GormLogger(log *zap.Logger, slow time.Duration) gormlogger.Interface {
	return gormlogger.New(zapWriter{log.Named("gorm").Sugar()}, gormlogger.Config{
		SlowThreshold:             slow,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// ConnectPostgres opens the pool, retrying with a growing pause while the
// database comes up, and migrates the given models.
func ConnectPostgres(cfg PostgresConfig, logger *zap.Logger, models ...interface{}) (*gorm.DB, error) {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.ConnectAttempts; attempt++ {
		db, err := open(cfg, logger)
		if err == nil {
			logger.Info("Connected to PostgreSQL",
				zap.String("host", cfg.Host),
				zap.String("db", cfg.DBName),
				zap.Int("attempt", attempt),
			)
			if len(models) > 0 {
				if err := db.AutoMigrate(models...); err != nil {
					return nil, fmt.Errorf("auto-migrate failed: %w", err)
				}
			}
			return db, nil
		}

		lastErr = err
		logger.Warn("DB connection failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Duration(attempt) * 2 * time.Second)
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL after %d attempts: %w", cfg.ConnectAttempts, lastErr)
}

func open(cfg PostgresConfig, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:  GormLogger(logger, cfg.SlowQuery),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
