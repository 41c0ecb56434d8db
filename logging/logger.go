// Package logging configures the agent's zap logger.
//
// Initialize once at startup and hand named children to components:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
//	reader := nfc.NewNFCReader(device, manager, nfc.WithReaderLogger(logging.Named("reader")))
package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LogLevelEnvVar is the environment variable read when no level is given.
const LogLevelEnvVar = "NFCV_LOG_LEVEL"

// DefaultLevel is used when neither a level nor the environment variable is set.
const DefaultLevel = "info"

// maxDump bounds hex dumps in log fields.
const maxDump = 256

// ParseLevel maps a level name to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Initialize creates the global logger with the specified level.
// If level is empty, it checks NFCV_LOG_LEVEL, then falls back to DefaultLevel.
// "off" installs a no-op logger.
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}
	if level == "" {
		level = DefaultLevel
	}
	if strings.EqualFold(level, "off") {
		logger = zap.NewNop()
		return nil
	}

	zapLevel, err := ParseLevel(level)
	if err != nil {
		return err
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

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = built
	return nil
}

// GetLogger returns the global logger instance, or a no-op logger before Initialize.
func GetLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Named returns a child of the global logger for one component.
func Named(component string) *zap.Logger {
	return GetLogger().Named(component)
}

// Hex returns a field holding data as uppercase hex, truncated for long frames.
func Hex(key string, data []byte) zap.Field {
	return zap.String(key, hexDump(data))
}

// RawBytes logs a frame at debug level.
func RawBytes(log *zap.Logger, label string, data []byte) {
	if log == nil || !log.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	log.Debug(label, zap.Int("length", len(data)), Hex("hex", data))
}

func hexDump(data []byte) string {
	if len(data) > maxDump {
		return strings.ToUpper(hex.EncodeToString(data[:maxDump])) + "..."
	}
	return strings.ToUpper(hex.EncodeToString(data))
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
