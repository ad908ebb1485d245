// internal/logger/pretty.go
package logger

import (
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// Colors for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// PrettyEncoder creates a user-friendly console encoder
func PrettyEncoder() zapcore.Encoder {
	config := zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		TimeKey:          "time",
		NameKey:          "logger",
		CallerKey:        "",
		StacktraceKey:    "",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      customLevelEncoder,
		EncodeTime:       customTimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	}
	return zapcore.NewConsoleEncoder(config)
}

// customLevelEncoder formats log levels with colors
func customLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString(fmt.Sprintf("%s[DEBUG]%s", ColorCyan, ColorReset))
	case zapcore.InfoLevel:
		enc.AppendString(fmt.Sprintf("%s[INFO]%s", ColorGreen, ColorReset))
	case zapcore.WarnLevel:
		enc.AppendString(fmt.Sprintf("%s[WARN]%s", ColorYellow, ColorReset))
	case zapcore.ErrorLevel:
		enc.AppendString(fmt.Sprintf("%s[ERROR]%s", ColorRed, ColorReset))
	case zapcore.FatalLevel:
		enc.AppendString(fmt.Sprintf("%s[FATAL]%s", ColorRed+ColorBold, ColorReset))
	default:
		enc.AppendString(fmt.Sprintf("[%s]", level.CapitalString()))
	}
}

func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("15:04:05"))
}

// ShortenAddress keeps the first and last four characters of a base58 key.
func ShortenAddress(addr string) string {
	if len(addr) > 8 {
		return addr[:4] + "..." + addr[len(addr)-4:]
	}
	return addr
}

// ShortenSignature keeps the first and last eight characters of a signature.
func ShortenSignature(sig string) string {
	if len(sig) > 16 {
		return sig[:8] + "..." + sig[len(sig)-8:]
	}
	return sig
}
