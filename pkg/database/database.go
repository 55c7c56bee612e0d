// Package database opens the relational store and migrates its tables.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	maxRetries = 5
	retryDelay = 5 * time.Second
)

// Options tunes connection retries. Zero values use the defaults.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
}

// MySQL returns the production dialector for dsn
// ("user:pass@tcp(127.0.0.1:3306)/knowpay?charset=utf8mb4&parseTime=True&loc=UTC")
func MySQL(dsn string) gorm.Dialector {
	return mysql.New(mysql.Config{
		DSN:                       dsn,
		DefaultStringSize:         256,
		DisableDatetimePrecision:  true,
		DontSupportRenameIndex:    true,
		DontSupportRenameColumn:   true,
		SkipInitializeWithVersion: false,
	})
}

// slogWriter routes gorm's log lines into slog
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "gorm")
}

// NewLogger bridges gorm logging onto logger. Only slow queries and errors are reported.
func NewLogger(logger *slog.Logger) gormlogger.Interface {
	return gormlogger.New(slogWriter{logger: logger}, gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Open connects with retries and migrates models. Unique violations are
// translated to gorm.ErrDuplicatedKey, the ledger relies on it.
func Open(ctx context.Context, dialector gorm.Dialector, logger *slog.Logger, opts Options, models ...any) (*gorm.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = maxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = retryDelay
	}

	var db *gorm.DB
	var err error
	for i := 0; i < opts.MaxRetries; i++ {
		db, err = gorm.Open(dialector, &gorm.Config{
			TranslateError: true,
			Logger:         NewLogger(logger),
		})
		if err == nil {
			break
		}

		logger.Warn("failed to connect to database", "attempt", i+1, "max_attempts", opts.MaxRetries, "error", err)
		if i < opts.MaxRetries-1 {
			select {
			case <-time.After(opts.RetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}
