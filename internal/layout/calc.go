package layout

import (
	"fmt"

	"ffibind/internal/errors"
	"ffibind/internal/model"
	"ffibind/internal/resolver"
)

// DefaultEnumWidth is the size in bytes of an enum without a fixed
// underlying type.
const DefaultEnumWidth = 4

// EnumPolicy decides the storage width of enums.
type EnumPolicy struct {
	Width     int            // bytes, 1, 2, 4 or 8
	Overrides map[string]int // per enum name
}

// FieldLayout is the placement of one struct member.
type FieldLayout struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Offset    int    `yaml:"offset"`
	Size      int    `yaml:"size"`
	Align     int    `yaml:"align"`
	BitOffset int    `yaml:"bitOffset,omitempty"` // bits into the storage unit at Offset
	BitWidth  int    `yaml:"bitWidth,omitempty"`
}

// StructLayout is the computed layout of a struct or union.
type StructLayout struct {
	Name   string        `yaml:"name"`
	Union  bool          `yaml:"union,omitempty"`
	Size   int           `yaml:"size"`
	Align  int           `yaml:"align"`
	Fields []FieldLayout `yaml:"fields"`
}

// Field returns the named field layout.
func (l StructLayout) Field(name string) (FieldLayout, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldLayout{}, false
}

// Calculator computes layouts of one resolved graph for one platform.
type Calculator struct {
	graph    *resolver.Graph
	platform Platform
	enums    EnumPolicy

	cache    map[string]StructLayout
	visiting map[string]bool
}

// CalcOption configures a Calculator.
type CalcOption func(*Calculator)

// WithEnumPolicy sets the enum width policy.
func WithEnumPolicy(p EnumPolicy) CalcOption {
	return func(c *Calculator) {
		if p.Width == 0 {
			p.Width = DefaultEnumWidth
		}
		c.enums = p
	}
}

// NewCalculator creates a calculator for graph on platform.
func NewCalculator(graph *resolver.Graph, platform Platform, opts ...CalcOption) *Calculator {
	c := &Calculator{
		graph:    graph,
		platform: platform,
		enums:    EnumPolicy{Width: DefaultEnumWidth},
		cache:    make(map[string]StructLayout),
		visiting: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Platform returns the calculator's target.
func (c *Calculator) Platform() Platform {
	return c.platform
}

func (c *Calculator) errorf(symbol, field, format string, args ...any) *errors.LayoutError {
	return &errors.LayoutError{
		Platform: c.platform.Name,
		Symbol:   symbol,
		Field:    field,
		Detail:   fmt.Sprintf(format, args...),
	}
}

// Struct returns the layout of the named struct or union.
func (c *Calculator) Struct(name string) (StructLayout, error) {
	if l, ok := c.cache[name]; ok {
		return l, nil
	}
	sym, ok := c.graph.Lookup(name)
	if !ok || sym.Struct == nil {
		return StructLayout{}, c.errorf(name, "", "not a struct or union")
	}
	if sym.Struct.Opaque {
		return StructLayout{}, c.errorf(name, "", "opaque type has no layout")
	}
	if c.visiting[name] {
		return StructLayout{}, c.errorf(name, "", "contains itself by value")
	}
	c.visiting[name] = true
	defer delete(c.visiting, name)

	var (
		l   StructLayout
		err error
	)
	if sym.Struct.Union {
		l, err = c.union(sym)
	} else {
		l, err = c.record(sym)
	}
	if err != nil {
		return StructLayout{}, err
	}
	c.cache[name] = l
	return l, nil
}

// All returns the layouts of every defined struct and union in dependency
// order. Opaque declarations are skipped.
func (c *Calculator) All() ([]StructLayout, error) {
	var out []StructLayout
	for _, sym := range c.graph.Ordered {
		if sym.Struct == nil || sym.Struct.Opaque {
			continue
		}
		l, err := c.Struct(sym.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// record lays out a struct: each member at the next offset aligned to its
// own alignment, consecutive bit-fields packed into storage units of their
// declared type.
func (c *Calculator) record(sym *model.Symbol) (StructLayout, error) {
	l := StructLayout{Name: sym.Name, Align: 1}
	bits := 0
	for i, f := range sym.Struct.Fields {
		if isFlexible(f.Type) {
			if i != len(sym.Struct.Fields)-1 {
				return StructLayout{}, c.errorf(sym.Name, f.Name, "flexible array member must be the last member")
			}
			// occupies no storage; only its alignment counts
			_, align, err := c.sizeOf(f.Type.Elem, sym.Name, f.Name)
			if err != nil {
				return StructLayout{}, err
			}
			l.Fields = append(l.Fields, FieldLayout{
				Name:   f.Name,
				Type:   f.Type.String(),
				Offset: roundUp(roundUp(bits, 8)/8, align),
				Align:  align,
			})
			l.Align = max(l.Align, align)
			continue
		}

		size, align, err := c.sizeOf(f.Type, sym.Name, f.Name)
		if err != nil {
			return StructLayout{}, err
		}

		if f.BitWidth != 0 {
			unit := size * 8
			width := f.BitWidth
			if width < 0 {
				// zero-width bit-field: close the current unit
				bits = roundUp(bits, align*8)
				continue
			}
			if width > unit {
				return StructLayout{}, c.errorf(sym.Name, f.Name, "bit-field width %d exceeds its type", width)
			}
			if bits/unit != (bits+width-1)/unit {
				bits = roundUp(bits, unit)
			}
			offset := bits / unit * size
			l.Fields = append(l.Fields, FieldLayout{
				Name:      f.Name,
				Type:      f.Type.String(),
				Offset:    offset,
				Size:      size,
				Align:     align,
				BitOffset: bits - offset*8,
				BitWidth:  width,
			})
			bits += width
			l.Align = max(l.Align, align)
			continue
		}

		offset := roundUp(roundUp(bits, 8)/8, align)
		l.Fields = append(l.Fields, FieldLayout{
			Name:   f.Name,
			Type:   f.Type.String(),
			Offset: offset,
			Size:   size,
			Align:  align,
		})
		bits = (offset + size) * 8
		l.Align = max(l.Align, align)
	}
	l.Size = roundUp(roundUp(bits, 8)/8, l.Align)
	return l, nil
}

func (c *Calculator) union(sym *model.Symbol) (StructLayout, error) {
	l := StructLayout{Name: sym.Name, Union: true, Align: 1}
	for _, f := range sym.Struct.Fields {
		size, align, err := c.sizeOf(f.Type, sym.Name, f.Name)
		if err != nil {
			return StructLayout{}, err
		}
		fl := FieldLayout{Name: f.Name, Type: f.Type.String(), Size: size, Align: align}
		if f.BitWidth > 0 {
			fl.BitWidth = f.BitWidth
		}
		l.Fields = append(l.Fields, fl)
		l.Size = max(l.Size, size)
		l.Align = max(l.Align, align)
	}
	l.Size = roundUp(l.Size, l.Align)
	return l, nil
}

// SizeOf returns the size and alignment of a resolved type.
func (c *Calculator) SizeOf(t *model.Type) (size, align int, err error) {
	return c.sizeOf(t, t.String(), "")
}

func (c *Calculator) sizeOf(t *model.Type, symbol, field string) (int, int, error) {
	switch t.Kind {
	case model.KindPrimitive:
		size, align, err := c.platform.Primitive(t.Name)
		if err != nil {
			return 0, 0, c.errorf(symbol, field, "%v", err)
		}
		return size, align, nil

	case model.KindPointer, model.KindFuncPtr, model.KindBlock, model.KindObject:
		return c.platform.PointerSize, c.platform.PointerSize, nil

	case model.KindArray:
		if isFlexible(t) {
			return 0, 0, c.errorf(symbol, field, "array has no length")
		}
		size, align, err := c.sizeOf(t.Elem, symbol, field)
		if err != nil {
			return 0, 0, err
		}
		n := t.Len
		if n == 0 {
			n = 1
			for _, d := range t.Dims {
				n *= d
			}
		}
		return size * n, align, nil

	case model.KindStruct, model.KindUnion:
		l, err := c.Struct(t.Name)
		if err != nil {
			if lerr, ok := err.(*errors.LayoutError); ok && lerr.Symbol == t.Name && field != "" {
				return 0, 0, c.errorf(symbol, field, "%s %s: %s", t.Kind, t.Name, lerr.Detail)
			}
			return 0, 0, err
		}
		return l.Size, l.Align, nil

	case model.KindEnum:
		size, err := c.enumWidth(t.Name)
		if err != nil {
			return 0, 0, c.errorf(symbol, field, "%v", err)
		}
		return size, min(size, c.platform.MaxScalarAlign), nil

	case model.KindTypedef:
		if t.Elem == nil {
			return 0, 0, c.errorf(symbol, field, "typedef %s is unresolved", t.Name)
		}
		return c.sizeOf(t.Elem, symbol, field)

	case model.KindVoid:
		return 0, 0, c.errorf(symbol, field, "void has no size")

	case model.KindFunction:
		return 0, 0, c.errorf(symbol, field, "function type has no size")
	}
	return 0, 0, c.errorf(symbol, field, "unresolved type %s", t)
}

// EnumWidth returns the storage size of the named enum in bytes.
func (c *Calculator) EnumWidth(name string) (int, error) {
	return c.enumWidth(name)
}

func (c *Calculator) enumWidth(name string) (int, error) {
	if w, ok := c.enums.Overrides[name]; ok {
		return w, nil
	}
	if sym, ok := c.graph.Lookup(name); ok && sym.Enum != nil && sym.Enum.Underlying != nil {
		size, _, err := c.sizeOf(sym.Enum.Underlying, name, "")
		return size, err
	}
	return c.enums.Width, nil
}

func isFlexible(t *model.Type) bool {
	return t.Kind == model.KindArray && t.Len == 0 && len(t.Dims) == 1 && t.Dims[0] == 0
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
