package cli

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ffibind/internal/config"
	"ffibind/internal/generator"
	"ffibind/internal/pipeline"
	"ffibind/internal/resolver"
	"ffibind/internal/watch"
)

// newLogger builds the logger described by cfg. verbose forces the debug
// level.
func newLogger(cfg config.LogConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if verbose {
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// installLogger hands l to every package that logs.
func installLogger(l *zap.Logger) {
	resolver.SetLogger(l.Named("resolver"))
	generator.SetLogger(l.Named("generator"))
	pipeline.SetLogger(l.Named("pipeline"))
	watch.SetLogger(l.Named("watch"))
}
