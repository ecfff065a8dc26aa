package model

// PrimitiveInfo describes a primitive C type. Size 0 means the size depends on
// the target platform.
type PrimitiveInfo struct {
	Size   int
	Signed bool
	Float  bool
	Class  SizeClass
}

// SizeClass names the platform property a platform-dependent primitive
// follows.
type SizeClass int

const (
	SizeFixed SizeClass = iota
	SizeLong
	SizePointer
	SizeLongDouble
	SizeCGFloat
)

// Primitives maps canonical primitive spellings to their properties.
var Primitives = map[string]PrimitiveInfo{
	"bool":               {Size: 1},
	"_Bool":              {Size: 1},
	"BOOL":               {Size: 1, Signed: true},
	"char":               {Size: 1, Signed: true},
	"signed char":        {Size: 1, Signed: true},
	"unsigned char":      {Size: 1},
	"short":              {Size: 2, Signed: true},
	"unsigned short":     {Size: 2},
	"int":                {Size: 4, Signed: true},
	"unsigned int":       {Size: 4},
	"long":               {Signed: true, Class: SizeLong},
	"unsigned long":      {Class: SizeLong},
	"long long":          {Size: 8, Signed: true},
	"unsigned long long": {Size: 8},
	"float":              {Size: 4, Signed: true, Float: true},
	"double":             {Size: 8, Signed: true, Float: true},
	"long double":        {Signed: true, Float: true, Class: SizeLongDouble},
	"int8_t":             {Size: 1, Signed: true},
	"uint8_t":            {Size: 1},
	"int16_t":            {Size: 2, Signed: true},
	"uint16_t":           {Size: 2},
	"int32_t":            {Size: 4, Signed: true},
	"uint32_t":           {Size: 4},
	"int64_t":            {Size: 8, Signed: true},
	"uint64_t":           {Size: 8},
	"intptr_t":           {Signed: true, Class: SizePointer},
	"uintptr_t":          {Class: SizePointer},
	"size_t":             {Class: SizePointer},
	"ssize_t":            {Signed: true, Class: SizePointer},
	"ptrdiff_t":          {Signed: true, Class: SizePointer},
	"NSInteger":          {Signed: true, Class: SizeLong},
	"NSUInteger":         {Class: SizeLong},
	"CGFloat":            {Signed: true, Float: true, Class: SizeCGFloat},
	"unichar":            {Size: 2},
}

// IsPrimitive reports whether name is a known primitive spelling.
func IsPrimitive(name string) bool {
	_, ok := Primitives[name]
	return ok
}
