package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"

	"tg-guardian/internal/logger"
)

// queryLogger sends gorm output to the application logger. Failed statements
// are errors, slow ones warnings, and every statement is debug output when the
// application runs at debug level.
type queryLogger struct {
	level gormlogger.LogLevel
	slow  time.Duration
}

func newQueryLogger(appLevel string, slow time.Duration) gormlogger.Interface {
	level := gormlogger.Warn
	switch strings.ToLower(appLevel) {
	case "debug":
		level = gormlogger.Info
	case "error", "fatal":
		level = gormlogger.Error
	}
	return &queryLogger{level: level, slow: slow}
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *q
	c.level = level
	return &c
}

func (q *queryLogger) Info(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Info {
		logger.Infof("gorm: "+msg, args...)
	}
}

func (q *queryLogger) Warn(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Warn {
		logger.Warningf("gorm: "+msg, args...)
	}
}

func (q *queryLogger) Error(_ context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Error {
		logger.Errorf("gorm: "+msg, args...)
	}
}

func (q *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	took := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := q.slow > 0 && took > q.slow

	switch {
	case failed && q.level >= gormlogger.Error:
		stmt, _ := fc()
		logger.Errorf("query failed after %s at %s: %v: %s", took, utils.FileWithLineNum(), err, stmt)
	case slow && q.level >= gormlogger.Warn:
		stmt, rows := fc()
		logger.Warningf("slow query (%s, %d rows, over %s) at %s: %s", took, rows, q.slow, utils.FileWithLineNum(), stmt)
	case q.level >= gormlogger.Info:
		stmt, rows := fc()
		logger.Debugf("query %s, %d rows: %s", took, rows, stmt)
	}
}
