package logger

import (
	"context"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLevel follows level; SetLevel updates both.
var zapLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

type zapLogger struct {
	sugar *zap.SugaredLogger
}

func newZap(cfg Config) *zapLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var enc zapcore.Encoder
	if f := strings.ToLower(cfg.Format); f == "text" || f == "console" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	var opts []zap.Option
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(cfg.Output), zapLevel)
	return &zapLogger{sugar: zap.New(core, opts...).Sugar()}
}

// zap skips slog's ReplaceAttr, so arguments are redacted here.
func (l *zapLogger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, redactArgs(args)...) }
func (l *zapLogger) Info(msg string, args ...any)  { l.sugar.Infow(msg, redactArgs(args)...) }
func (l *zapLogger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, redactArgs(args)...) }
func (l *zapLogger) Error(msg string, args ...any) { l.sugar.Errorw(msg, redactArgs(args)...) }

func (l *zapLogger) With(args ...any) Logger {
	return &zapLogger{sugar: l.sugar.With(redactArgs(args)...)}
}

func (l *zapLogger) WithContext(ctx context.Context) Logger {
	fields := Fields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Sync flushes buffered entries.
func (l *zapLogger) Sync() error {
	return l.sugar.Sync()
}

func toZapLevel(l slog.Level) zapcore.Level {
	switch {
	case l <= slog.LevelDebug:
		return zapcore.DebugLevel
	case l <= slog.LevelInfo:
		return zapcore.InfoLevel
	case l <= slog.LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
