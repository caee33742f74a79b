// Package logging builds the per-client log file sink: one timestamped file
// under <dir>/logs, written at a configurable level.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FilePrefix starts every log file name.
const FilePrefix = "temeva_rest_client"

// Config controls where and how verbosely a client logs.
type Config struct {
	// Level is one of DEBUG, INFO, WARNING, ERROR or CRITICAL (any case).
	// Anything else means INFO.
	Level string

	// Dir is the parent of the logs directory. Empty means the working
	// directory.
	Dir string

	// Now overrides the clock used for the file name.
	Now func() time.Time
}

// ParseLevel maps a level name to a zap level. CRITICAL maps to error:
// critical events are logged at error severity, and zap has nothing between
// error and panic.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARNING", "WARN":
		return zapcore.WarnLevel
	case "ERROR", "CRITICAL":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// FileName returns the log file name for a client started at t.
func FileName(t time.Time) string {
	return FilePrefix + t.Format("150405_01022006") + ".log"
}

// LogDir returns the directory log files go to for base.
func LogDir(base string) (string, error) {
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		base = wd
	}
	if strings.HasPrefix(base, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		base = filepath.Join(home, strings.TrimPrefix(base, "~"))
	}
	abs, err := filepath.Abs(filepath.Join(base, "logs"))
	if err != nil {
		return "", fmt.Errorf("resolve log directory: %w", err)
	}
	return abs, nil
}

// NewFileLogger creates the logs directory if needed and returns a logger
// writing to a fresh file in it, plus that file's path.
func NewFileLogger(cfg Config) (*zap.Logger, string, error) {
	dir, err := LogDir(cfg.Dir)
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create log directory: %w", err)
	}

	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	path := filepath.Join(dir, FileName(now()))

	zc := zap.Config{
		Level:            zap.NewAtomicLevelAt(ParseLevel(cfg.Level)),
		Encoding:         "console",
		EncoderConfig:    encoderConfig(),
		OutputPaths:      []string{path},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, "", fmt.Errorf("build logger: %w", err)
	}

	logger.Info("go runtime", zap.String("version", runtime.Version()))
	return logger, path, nil
}

// encoderConfig lays lines out as "time LEVEL message fields".
func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.CallerKey = zapcore.OmitKey
	ec.ConsoleSeparator = " "
	return ec
}
