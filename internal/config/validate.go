package config

import (
	"errors"
	"fmt"
	"go/token"
	"strings"

	"ffibind/internal/layout"
	"ffibind/internal/parser"
)

var (
	// ErrInvalidPackage indicates a package name that is not a Go identifier
	ErrInvalidPackage = errors.New("invalid package name")

	// ErrInvalidPlatform indicates an unknown layout platform
	ErrInvalidPlatform = errors.New("invalid platform")

	// ErrInvalidBackend indicates an unsupported parser backend
	ErrInvalidBackend = errors.New("invalid parser backend")

	// ErrInvalidEnumWidth indicates an enum width other than 1, 2, 4 or 8 bytes
	ErrInvalidEnumWidth = errors.New("invalid enum width")

	// ErrInvalidPattern indicates a filter pattern that does not compile
	ErrInvalidPattern = errors.New("invalid filter pattern")

	// ErrInvalidLogSettings indicates an unknown log level or format
	ErrInvalidLogSettings = errors.New("invalid log settings")
)

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	var errs []error

	if !token.IsIdentifier(cfg.Package) || token.IsKeyword(cfg.Package) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidPackage, cfg.Package))
	}

	switch parser.Backend(strings.ToLower(cfg.Parser.Backend)) {
	case parser.BackendBuiltin, parser.BackendTreeSitter, parser.BackendAuto:
	default:
		errs = append(errs, fmt.Errorf("%w: must be 'builtin', 'treesitter' or 'auto', got '%s'", ErrInvalidBackend, cfg.Parser.Backend))
	}

	if err := validateLayout(&cfg.Layout); err != nil {
		errs = append(errs, err)
	}

	if _, err := cfg.Filter(); err != nil {
		errs = append(errs, err)
	}

	if err := validateLog(&cfg.Log); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateLayout(cfg *LayoutConfig) error {
	var errs []error

	for _, name := range append([]string{cfg.Platform}, cfg.Platforms...) {
		if _, err := layout.LookupPlatform(name); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidPlatform, err))
		}
	}

	if !validEnumWidth(cfg.EnumWidth) {
		errs = append(errs, fmt.Errorf("%w: must be 1, 2, 4 or 8, got %d", ErrInvalidEnumWidth, cfg.EnumWidth))
	}
	for name, width := range cfg.EnumOverrides {
		if !validEnumWidth(width) {
			errs = append(errs, fmt.Errorf("%w: enum %s: must be 1, 2, 4 or 8, got %d", ErrInvalidEnumWidth, name, width))
		}
	}

	return errors.Join(errs...)
}

func validEnumWidth(w int) bool {
	return w == 1 || w == 2 || w == 4 || w == 8
}

func validateLog(cfg *LogConfig) error {
	var errs []error
	switch strings.ToLower(cfg.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown level '%s'", ErrInvalidLogSettings, cfg.Level))
	}
	switch strings.ToLower(cfg.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown format '%s'", ErrInvalidLogSettings, cfg.Format))
	}
	return errors.Join(errs...)
}
