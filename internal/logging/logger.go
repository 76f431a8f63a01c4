// Package logging builds the zap loggers of the triage binaries. Logs go to
// stderr by default since stdout carries classification results.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mikey/mail-triage/internal/config"
)

// Options select the logger flavour
type Options struct {
	Level  string // debug, info, warn or error
	Format string // json or console
	Output string // stderr, stdout or a file path
}

// InitLogger initializes a logger from the logging.* settings
func InitLogger(cfg *config.Config) (*zap.Logger, error) {
	return New(Options{
		Level:  cfg.GetString("logging.level"),
		Format: cfg.GetString("logging.format"),
		Output: cfg.GetString("logging.output"),
	})
}

// InitConsoleLogger initializes a logger for interactive use
func InitConsoleLogger(verbose bool, jsonFormat bool) (*zap.Logger, error) {
	opts := Options{Level: "info", Format: "console"}
	if verbose {
		opts.Level = "debug"
	}
	if jsonFormat {
		opts.Format = "json"
	}
	return New(opts)
}

// New builds a logger. Unknown levels fall back to info.
func New(opts Options) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}

	var logConfig zap.Config
	if strings.EqualFold(opts.Format, "console") {
		logConfig = zap.NewDevelopmentConfig()
		logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		logConfig = zap.NewProductionConfig()
		logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	logConfig.Level = zap.NewAtomicLevelAt(level)

	output := opts.Output
	if output == "" {
		output = "stderr"
	}
	logConfig.OutputPaths = []string{output}
	logConfig.ErrorOutputPaths = []string{"stderr"}

	logger, err := logConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
