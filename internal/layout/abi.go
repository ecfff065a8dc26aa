package layout

import (
	"fmt"
	"slices"
	"strings"

	"ffibind/internal/model"
)

// Platform describes the data model of one target.
type Platform struct {
	Name            string
	PointerSize     int
	LongSize        int
	LongDoubleSize  int
	LongDoubleAlign int
	MaxScalarAlign  int // alignment cap for 8-byte scalars inside structs

	GOOS, GOARCH string // Go target of generated code for this platform
}

// Platforms is the ABI table of supported targets.
var Platforms = map[string]Platform{
	"linux-x64":     {PointerSize: 8, LongSize: 8, LongDoubleSize: 16, LongDoubleAlign: 16, MaxScalarAlign: 8, GOOS: "linux", GOARCH: "amd64"},
	"linux-arm64":   {PointerSize: 8, LongSize: 8, LongDoubleSize: 16, LongDoubleAlign: 16, MaxScalarAlign: 8, GOOS: "linux", GOARCH: "arm64"},
	"linux-ia32":    {PointerSize: 4, LongSize: 4, LongDoubleSize: 12, LongDoubleAlign: 4, MaxScalarAlign: 4, GOOS: "linux", GOARCH: "386"},
	"linux-arm":     {PointerSize: 4, LongSize: 4, LongDoubleSize: 8, LongDoubleAlign: 8, MaxScalarAlign: 8, GOOS: "linux", GOARCH: "arm"},
	"macos-x64":     {PointerSize: 8, LongSize: 8, LongDoubleSize: 16, LongDoubleAlign: 16, MaxScalarAlign: 8, GOOS: "darwin", GOARCH: "amd64"},
	"macos-arm64":   {PointerSize: 8, LongSize: 8, LongDoubleSize: 8, LongDoubleAlign: 8, MaxScalarAlign: 8, GOOS: "darwin", GOARCH: "arm64"},
	"ios-arm64":     {PointerSize: 8, LongSize: 8, LongDoubleSize: 8, LongDoubleAlign: 8, MaxScalarAlign: 8, GOOS: "ios", GOARCH: "arm64"},
	"windows-x64":   {PointerSize: 8, LongSize: 4, LongDoubleSize: 8, LongDoubleAlign: 8, MaxScalarAlign: 8, GOOS: "windows", GOARCH: "amd64"},
	"windows-ia32":  {PointerSize: 4, LongSize: 4, LongDoubleSize: 8, LongDoubleAlign: 8, MaxScalarAlign: 8, GOOS: "windows", GOARCH: "386"},
	"android-arm64": {PointerSize: 8, LongSize: 8, LongDoubleSize: 16, LongDoubleAlign: 16, MaxScalarAlign: 8, GOOS: "android", GOARCH: "arm64"},
	"android-arm":   {PointerSize: 4, LongSize: 4, LongDoubleSize: 8, LongDoubleAlign: 8, MaxScalarAlign: 8, GOOS: "android", GOARCH: "arm"},
}

// DefaultPlatform is used when no platform is configured.
const DefaultPlatform = "linux-x64"

func init() {
	for name, p := range Platforms {
		p.Name = name
		Platforms[name] = p
	}
}

// LookupPlatform returns the named platform.
func LookupPlatform(name string) (Platform, error) {
	p, ok := Platforms[name]
	if !ok {
		return Platform{}, fmt.Errorf("unknown platform %q (known: %s)", name, strings.Join(PlatformNames(), ", "))
	}
	return p, nil
}

// PlatformNames returns the supported platform names in sorted order.
func PlatformNames() []string {
	names := make([]string, 0, len(Platforms))
	for name := range Platforms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Primitive returns the size and alignment of a primitive type.
func (p Platform) Primitive(name string) (size, align int, err error) {
	info, ok := model.Primitives[name]
	if !ok {
		return 0, 0, fmt.Errorf("unknown primitive %q", name)
	}
	size = info.Size
	switch info.Class {
	case model.SizeLong:
		size = p.LongSize
	case model.SizePointer:
		size = p.PointerSize
	case model.SizeCGFloat:
		size = p.PointerSize
	case model.SizeLongDouble:
		return p.LongDoubleSize, p.LongDoubleAlign, nil
	}
	return size, min(size, p.MaxScalarAlign), nil
}
