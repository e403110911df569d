// Package logging builds the zap logger used by every command.
package logging

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lakshaymaurya-felt/clearfile/internal/config"
)

type loggerCtxKey struct{}

// New builds a logger writing to stderr, and additionally to a rotating file
// when cfg.File is set. debug switches to the development console encoder.
// levelOverride, when non-empty, takes precedence over cfg.Level.
func New(debug bool, levelOverride string, cfg config.LogConfig) (*zap.Logger, error) {
	logLevel := cfg.Level
	if levelOverride != "" {
		logLevel = levelOverride
	}
	if debug && levelOverride == "" {
		logLevel = "debug"
	}
	if logLevel == "" {
		logLevel = "info"
	}

	level, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", logLevel, err)
	}

	var loggerCfg zap.Config
	if debug {
		loggerCfg = zap.NewDevelopmentConfig()
	} else {
		loggerCfg = zap.NewProductionConfig()
		loggerCfg.DisableStacktrace = true
		loggerCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		if !cfg.JSON {
			loggerCfg.Encoding = "console"
		}
	}
	loggerCfg.Level = level

	var opts []zap.Option
	if cfg.File != "" {
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(fileEncoderConfig()),
			zapcore.AddSync(RotatingWriter(cfg)),
			level,
		)
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	logger, err := loggerCfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger.Named("clearfile"), nil
}

// RotatingWriter returns the lumberjack writer for cfg.File.
func RotatingWriter(cfg config.LogConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}
}

func fileEncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return enc
}

// NewRunLogger returns a child of l tagged with a fresh run id, and the id.
func NewRunLogger(l *zap.Logger) (*zap.Logger, string) {
	id := uuid.NewString()
	if l == nil {
		l = zap.NewNop()
	}
	return l.With(zap.String("run_id", id)), id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	logger, ok := ctx.Value(loggerCtxKey{}).(*zap.Logger)
	if !ok || logger == nil {
		return zap.NewNop()
	}
	return logger
}
