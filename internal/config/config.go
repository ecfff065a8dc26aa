// Package config provides configuration handling for ffibind.
package config

import (
	"fmt"
	"os"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"ffibind/internal/layout"
)

// Config represents the complete configuration.
// It can be loaded from .ffibind.yaml with FFIBIND_* environment overrides.
type Config struct {
	Package      string            `yaml:"package" mapstructure:"package"` // Go package name of the bindings
	Library      string            `yaml:"library" mapstructure:"library"` // native library base name, "mylib" for libmylib.so
	Output       string            `yaml:"output" mapstructure:"output"`   // output directory
	Parser       ParserConfig      `yaml:"parser" mapstructure:"parser"`
	Layout       LayoutConfig      `yaml:"layout" mapstructure:"layout"`
	ObjC         ObjCConfig        `yaml:"objc" mapstructure:"objc"`
	Filters      FiltersConfig     `yaml:"filters" mapstructure:"filters"`
	TypeMappings map[string]string `yaml:"typeMappings" mapstructure:"typeMappings"` // C name -> Go type
	Ownership    OwnershipConfig   `yaml:"ownership" mapstructure:"ownership"`
	Emit         EmitConfig        `yaml:"emit" mapstructure:"emit"`
	Log          LogConfig         `yaml:"log" mapstructure:"log"`
}

// ParserConfig selects the header parser.
type ParserConfig struct {
	Backend      string   `yaml:"backend" mapstructure:"backend"`           // "builtin", "treesitter" or "auto"
	IgnoreMacros []string `yaml:"ignoreMacros" mapstructure:"ignoreMacros"` // export macros defined outside the unit
}

// LayoutConfig configures the layout calculator.
type LayoutConfig struct {
	Platform      string         `yaml:"platform" mapstructure:"platform"`   // host platform of the generated assertions
	Platforms     []string       `yaml:"platforms" mapstructure:"platforms"` // additional manifest platforms
	EnumWidth     int            `yaml:"enumWidth" mapstructure:"enumWidth"` // bytes
	EnumOverrides map[string]int `yaml:"enumOverrides" mapstructure:"enumOverrides"`
}

// ObjCConfig configures Objective-C resolution.
type ObjCConfig struct {
	ExternalClasses []string `yaml:"externalClasses" mapstructure:"externalClasses"`
}

// FiltersConfig selects the emitted symbols with glob patterns.
type FiltersConfig struct {
	Include []string `yaml:"include" mapstructure:"include"`
	Exclude []string `yaml:"exclude" mapstructure:"exclude"`
}

// OwnershipConfig describes ownership the headers do not annotate.
type OwnershipConfig struct {
	Finalizers map[string]string `yaml:"finalizers" mapstructure:"finalizers"` // allocator -> free function
	Retained   []string          `yaml:"retained" mapstructure:"retained"`     // functions returning retained values
}

// EmitConfig controls the binding emitter.
type EmitConfig struct {
	FailOnEmitError bool   `yaml:"failOnEmitError" mapstructure:"failOnEmitError"`
	Templates       string `yaml:"templates" mapstructure:"templates"`       // directory of *.tmpl overrides
	BridgeImport    string `yaml:"bridgeImport" mapstructure:"bridgeImport"` // import path of the runtime package
}

// LogConfig configures the zap logger of the CLI.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // console or json
}

// New creates a new Config with default values.
func New() *Config {
	return Default()
}

// caseSensitive holds the map-valued settings. viper lowercases map keys,
// and C names are case-sensitive, so these are decoded with yaml.v3.
type caseSensitive struct {
	TypeMappings map[string]string `yaml:"typeMappings"`
	Layout       struct {
		EnumOverrides map[string]int `yaml:"enumOverrides"`
	} `yaml:"layout"`
	Ownership struct {
		Finalizers map[string]string `yaml:"finalizers"`
	} `yaml:"ownership"`
}

// loadMaps replaces the map-valued settings with the ones of the YAML file
// at path, keeping the key case.
func (c *Config) loadMaps(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var loaded caseSensitive
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing YAML config: %w", err)
	}
	c.TypeMappings = loaded.TypeMappings
	c.Layout.EnumOverrides = loaded.Layout.EnumOverrides
	c.Ownership.Finalizers = loaded.Ownership.Finalizers
	return nil
}

// merge merges user type mappings over the defaults.
func (c *Config) merge(defaults map[string]string) {
	merged := make(map[string]string, len(defaults)+len(c.TypeMappings))
	for k, v := range defaults {
		merged[k] = v
	}
	// Loaded values override defaults
	for k, v := range c.TypeMappings {
		merged[k] = v
	}
	c.TypeMappings = merged
}

// MapType returns the Go type configured for a C type name.
func (c *Config) MapType(cName string) (string, bool) {
	mapped, ok := c.TypeMappings[cName]
	return mapped, ok
}

// IsRetained reports whether fn is configured to return a retained value.
func (c *Config) IsRetained(fn string) bool {
	for _, name := range c.Ownership.Retained {
		if name == fn {
			return true
		}
	}
	return false
}

// Finalizer returns the free function paired with an allocator.
func (c *Config) Finalizer(allocator string) (string, bool) {
	free, ok := c.Ownership.Finalizers[allocator]
	return free, ok
}

// EnumPolicy returns the layout enum width policy.
func (c *Config) EnumPolicy() layout.EnumPolicy {
	return layout.EnumPolicy{Width: c.Layout.EnumWidth, Overrides: c.Layout.EnumOverrides}
}

// Filter compiles the include and exclude patterns.
func (c *Config) Filter() (*Filter, error) {
	return NewFilter(c.Filters.Include, c.Filters.Exclude)
}

type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// Filter decides which symbols are emitted.
type Filter struct {
	include []compiledPattern
	exclude []compiledPattern
}

// NewFilter compiles glob patterns over symbol names.
func NewFilter(include, exclude []string) (*Filter, error) {
	f := &Filter{}
	var err error
	if f.include, err = compilePatterns(include); err != nil {
		return nil, err
	}
	if f.exclude, err = compilePatterns(exclude); err != nil {
		return nil, err
	}
	return f, nil
}

func compilePatterns(patterns []string) ([]compiledPattern, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
		}
		compiled = append(compiled, compiledPattern{pattern: pattern, glob: g})
	}
	return compiled, nil
}

// ShouldInclude checks if a symbol should be emitted. With include patterns
// the name must match one of them; exclude patterns always win.
func (f *Filter) ShouldInclude(name string) bool {
	if f == nil {
		return true
	}
	if len(f.include) > 0 && !matchAny(f.include, name) {
		return false
	}
	return !matchAny(f.exclude, name)
}

func matchAny(patterns []compiledPattern, name string) bool {
	for _, p := range patterns {
		if p.glob.Match(name) {
			return true
		}
	}
	return false
}
