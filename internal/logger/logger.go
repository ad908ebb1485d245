// internal/logger/logger.go
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls console and rotated file output.
type Config struct {
	Level      string
	File       string // empty disables the file sink
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Console    io.Writer // defaults to stdout
}

// New builds a logger that writes readable lines to the console and JSON
// to a rotated file. Extra cores (such as a Buffer) are teed in.
func New(cfg Config, extra ...zapcore.Core) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}
	cores := []zapcore.Core{
		zapcore.NewCore(PrettyEncoder(), zapcore.Lock(zapcore.AddSync(console)), level),
	}

	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), zapcore.AddSync(rotator), level))
	}
	cores = append(cores, extra...)

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return cfg
}

// WithOperation tags a logger with an operation name and a fresh
// correlation id.
func WithOperation(l *zap.Logger, operation string) *zap.Logger {
	return l.With(
		zap.String("operation", operation),
		zap.String("correlation_id", uuid.NewString()),
		zap.Time("start_time", time.Now().UTC()),
	)
}

// Sync flushes l, ignoring the errors terminals return for fsync.
func Sync(l *zap.Logger) error {
	err := l.Sync()
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl") {
		return nil
	}
	return err
}
