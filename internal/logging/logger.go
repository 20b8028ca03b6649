// Package logging builds the zap logger used by vdportctl and adapts it to
// the vdport.Logger interface.
package logging

import (
	"encoding/hex"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Zereker/vdport"
)

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "VDPORT_LOG_LEVEL"

// maxDumpBytes bounds hex dumps in log lines.
const maxDumpBytes = 256

// New creates a logger with the specified level.
// If level is empty, it checks VDPORT_LOG_LEVEL.
// If neither is set, the returned logger discards everything.
func New(level string) (*zap.Logger, error) {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	level = strings.ToLower(strings.TrimSpace(level))

	if level == "" || level == "off" || level == "none" {
		return zap.NewNop(), nil
	}

	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, errors.Errorf("unknown log level %q", level)
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize logger")
	}
	return logger, nil
}

// sugared exposes a zap logger through the key/value vdport.Logger interface.
type sugared struct {
	s *zap.SugaredLogger
}

// Adapt returns a vdport.Logger writing to l.
func Adapt(l *zap.Logger) vdport.Logger {
	return sugared{s: l.Sugar()}
}

func (l sugared) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l sugared) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l sugared) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l sugared) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }

// MessageFields describes a received message for a log line, with a hex
// dump of at most the first 256 payload bytes.
func MessageFields(msg vdport.Message) []zap.Field {
	return []zap.Field{
		zap.Uint32("port", msg.Chunk.Port),
		zap.String("type", vdport.TypeName(msg.Header.Type)),
		zap.Uint32("protocol", msg.Header.Protocol),
		zap.Uint64("opaque", msg.Header.Opaque),
		zap.Uint32("size", msg.Header.Size),
		zap.String("hex", HexDump(msg.Payload)),
	}
}

// HexDump encodes data as hex, truncated to 256 bytes.
func HexDump(data []byte) string {
	if len(data) > maxDumpBytes {
		return hex.EncodeToString(data[:maxDumpBytes]) + "..."
	}
	return hex.EncodeToString(data)
}
