package config

import (
	"ffibind/internal/layout"
	"ffibind/internal/parser"
	"ffibind/internal/resolver"
)

// DefaultBridgeImport is the import path of the runtime package that
// generated code links against.
const DefaultBridgeImport = "ffibind/bridge"

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Package: "bindings",
		Output:  ".",
		Parser: ParserConfig{
			Backend: string(parser.BackendBuiltin),
		},
		Layout: LayoutConfig{
			Platform:  layout.DefaultPlatform,
			EnumWidth: layout.DefaultEnumWidth,
		},
		ObjC: ObjCConfig{
			ExternalClasses: append([]string(nil), resolver.DefaultExternalClasses...),
		},
		TypeMappings: DefaultTypeMappings(),
		Emit: EmitConfig{
			BridgeImport: DefaultBridgeImport,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultTypeMappings returns the Go types of the fixed-size C primitives.
// Platform-dependent primitives (long, size_t, CGFloat) are sized by the
// layout platform instead.
func DefaultTypeMappings() map[string]string {
	return map[string]string{
		// Basic types
		"bool":               "bool",
		"_Bool":              "bool",
		"char":               "int8",
		"signed char":        "int8",
		"unsigned char":      "uint8",
		"short":              "int16",
		"unsigned short":     "uint16",
		"int":                "int32",
		"unsigned int":       "uint32",
		"long long":          "int64",
		"unsigned long long": "uint64",
		"float":              "float32",
		"double":             "float64",

		// Fixed-width types
		"int8_t":   "int8",
		"uint8_t":  "uint8",
		"int16_t":  "int16",
		"uint16_t": "uint16",
		"int32_t":  "int32",
		"uint32_t": "uint32",
		"int64_t":  "int64",
		"uint64_t": "uint64",

		// Objective-C types
		"BOOL":    "bool",
		"unichar": "uint16",
	}
}
