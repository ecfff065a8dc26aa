package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the project directory.
const FileName = ".ffibind"

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir string
	file    string
}

// NewLoader creates a loader that looks for .ffibind.yaml in rootDir.
func NewLoader(rootDir string) Loader {
	return &loader{rootDir: rootDir}
}

// NewFileLoader creates a loader reading an explicit config file. A missing
// file is an error.
func NewFileLoader(path string) Loader {
	return &loader{file: path}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (FFIBIND_*)
// 2. Config file (.ffibind.yaml or the explicit file)
// 3. Default values
func (l *loader) Load() (*Config, error) {
	v := viper.New()

	if l.file != "" {
		v.SetConfigFile(l.file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(l.rootDir)
	}

	// FFIBIND_LAYOUT_PLATFORM overrides layout.platform
	v.SetEnvPrefix("FFIBIND")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range []string{
		"package", "library", "output",
		"parser.backend",
		"layout.platform", "layout.enumWidth",
		"emit.failOnEmitError", "emit.templates",
		"log.level", "log.format",
	} {
		_ = v.BindEnv(key)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is acceptable - we'll use defaults + env vars
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.TypeMappings = nil
	cfg.Layout.EnumOverrides = nil
	cfg.Ownership.Finalizers = nil
	if path := v.ConfigFileUsed(); path != "" {
		if err := cfg.loadMaps(path); err != nil {
			return nil, err
		}
	}
	cfg.merge(DefaultTypeMappings())

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("package", defaults.Package)
	v.SetDefault("library", defaults.Library)
	v.SetDefault("output", defaults.Output)

	v.SetDefault("parser.backend", defaults.Parser.Backend)
	v.SetDefault("parser.ignoreMacros", defaults.Parser.IgnoreMacros)

	v.SetDefault("layout.platform", defaults.Layout.Platform)
	v.SetDefault("layout.platforms", defaults.Layout.Platforms)
	v.SetDefault("layout.enumWidth", defaults.Layout.EnumWidth)

	v.SetDefault("objc.externalClasses", defaults.ObjC.ExternalClasses)

	v.SetDefault("filters.include", defaults.Filters.Include)
	v.SetDefault("filters.exclude", defaults.Filters.Exclude)

	v.SetDefault("ownership.retained", defaults.Ownership.Retained)

	v.SetDefault("emit.failOnEmitError", defaults.Emit.FailOnEmitError)
	v.SetDefault("emit.templates", defaults.Emit.Templates)
	v.SetDefault("emit.bridgeImport", defaults.Emit.BridgeImport)

	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
}

// LoadConfig loads configuration from the current working directory.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}

// LoadConfigFromDir loads configuration from a specific directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
