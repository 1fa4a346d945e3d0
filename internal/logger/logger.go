package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerConfig defines the configuration for the logger.
type LoggerConfig struct {
	Level      string    // Log level (e.g., "info", "debug", "error")
	Format     string    // "json" or "text"
	FilePath   string    // Path to the rotated log file, empty disables file output
	MaxSize    int       // Maximum size in megabytes before log rotation
	MaxBackups int       // Maximum number of old log files to retain
	MaxAge     int       // Maximum number of days to retain old log files
	Compress   bool      // Whether to compress rotated log files
	Console    bool      // Whether to also log to the console
	Output     io.Writer // Console writer, defaults to os.Stderr
}

// NewLogger returns a new logrus.Logger configured according to the provided LoggerConfig.
// File output goes through lumberjack for rotation.
func NewLogger(config LoggerConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	switch strings.ToLower(config.Format) {
	case "", "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "function",
			},
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		})
	default:
		return nil, fmt.Errorf("unknown log format: %s", config.Format)
	}

	var writers []io.Writer

	if config.FilePath != "" {
		dir := filepath.Dir(config.FilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}

	if config.Console || config.FilePath == "" {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, out)
	}

	if len(writers) > 1 {
		logger.SetOutput(io.MultiWriter(writers...))
	} else {
		logger.SetOutput(writers[0])
	}

	return logger, nil
}

// Discard returns a logger that drops everything. Used by tests and library callers
// that do not care about diagnostics.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// WithFields returns a logger entry with the specified fields.
func WithFields(logger *logrus.Logger, fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// WithFile returns a logger entry with the specified file context.
func WithFile(logger *logrus.Logger, filePath string) *logrus.Entry {
	return logger.WithField("file", filePath)
}

// WithOperation returns a logger entry with the specified operation context.
func WithOperation(logger *logrus.Logger, operation string) *logrus.Entry {
	return logger.WithField("operation", operation)
}

// WithFileOperation returns a logger entry with both file and operation context.
func WithFileOperation(logger *logrus.Logger, filePath, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"file":      filePath,
		"operation": operation,
	})
}

// DefaultConfig returns the default LoggerConfig.
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "info",
		Format:     "json",
		FilePath:   "imgbatch.log",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
		Console:    true,
	}
}
