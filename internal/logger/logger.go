package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"tg-guardian/internal/config"
)

var sugar atomic.Pointer[zap.SugaredLogger]

func init() {
	sugar.Store(zap.New(newCore(zapcore.AddSync(os.Stdout), zapcore.InfoLevel), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar())
}

// createLogFilePath generates a log file path with the current date
func createLogFilePath(logDir, prefix string) string {
	currentDate := time.Now().Format("2006-01-02")
	return filepath.Join(logDir, fmt.Sprintf("%s-%s.log", prefix, currentDate))
}

// createRotatingLogger creates a lumberjack rotating logger
func createRotatingLogger(logFilePath string, cfg *config.Config) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    cfg.Logger.Rotation.MaxSize,
		MaxBackups: cfg.Logger.Rotation.MaxBackups,
		MaxAge:     cfg.Logger.Rotation.MaxAge,
		Compress:   cfg.Logger.Rotation.Compress,
	}
}

func newCore(ws zapcore.WriteSyncer, level zapcore.Level) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, level)
}

// ParseLevel maps the configured level name to a zap level, defaulting to info.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(name) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Setup configures logging to output to both stdout and a rotating log file
func Setup(cfg *config.Config) error {
	logDir := cfg.Logger.Directory

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFilePath := createLogFilePath(logDir, cfg.Logger.Prefix)
	rotating := createRotatingLogger(logFilePath, cfg)
	ws := zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout), zapcore.AddSync(rotating))

	l := zap.New(newCore(ws, ParseLevel(cfg.Logger.Level)), zap.AddCaller(), zap.AddCallerSkip(1))
	sugar.Store(l.Sugar())

	Infof("Logging initialized: writing to %s", logFilePath)
	return nil
}

// Use replaces the active logger, mainly for tests that capture output.
func Use(l *zap.Logger) {
	sugar.Store(l.WithOptions(zap.AddCallerSkip(1)).Sugar())
}

// Sync flushes buffered entries.
func Sync() {
	_ = sugar.Load().Sync()
}

func Debugf(format string, args ...any) { sugar.Load().Debugf(format, args...) }

func Infof(format string, args ...any) { sugar.Load().Infof(format, args...) }

func Warningf(format string, args ...any) { sugar.Load().Warnf(format, args...) }

func Errorf(format string, args ...any) { sugar.Load().Errorf(format, args...) }

func Fatalf(format string, args ...any) { sugar.Load().Fatalf(format, args...) }

func Info(args ...any) { sugar.Load().Info(args...) }

func Warning(args ...any) { sugar.Load().Warn(args...) }

func Error(args ...any) { sugar.Load().Error(args...) }
