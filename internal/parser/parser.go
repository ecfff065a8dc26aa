// Package parser provides C and Objective-C header parsing functionality.
package parser

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ffibind/internal/errors"
	"ffibind/internal/model"
)

// Backend selects the parser implementation for a unit.
type Backend string

const (
	BackendBuiltin    Backend = "builtin"    // tokenizer + recursive descent, C and Objective-C
	BackendTreeSitter Backend = "treesitter" // tree-sitter-c, pure C only
	BackendAuto       Backend = "auto"       // treesitter for .c units, builtin otherwise
)

// Parser parses header units into symbol tables.
type Parser struct {
	backend    Backend
	ignore     map[string]bool
	cache      *Cache
	treeSitter *treeSitterParser
}

// Option configures a Parser.
type Option func(*Parser)

// WithBackend selects the parser backend.
func WithBackend(b Backend) Option {
	return func(p *Parser) { p.backend = b }
}

// WithIgnoredMacros registers identifiers that are skipped like attributes,
// for export macros defined in headers that are not part of the unit.
func WithIgnoredMacros(names ...string) Option {
	return func(p *Parser) {
		for _, n := range names {
			p.ignore[n] = true
		}
	}
}

// WithCache reuses parse results for identical unit contents.
func WithCache(c *Cache) Option {
	return func(p *Parser) { p.cache = c }
}

// New creates a new Parser.
func New(opts ...Option) *Parser {
	p := &Parser{
		backend: BackendBuiltin,
		ignore:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFile reads and parses a single header unit.
func (p *Parser) ParseFile(path string) (*model.Unit, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return p.Parse(path, src)
}

// Parse parses header text. The returned unit must not be modified: with a
// cache configured it is shared between calls.
func (p *Parser) Parse(path string, src []byte) (*model.Unit, error) {
	backend := p.backendFor(path)

	var key string
	if p.cache != nil {
		key = cacheKey(path, backend, src)
		if unit, ok := p.cache.Get(key); ok {
			return unit, nil
		}
	}

	var (
		unit *model.Unit
		err  error
	)
	switch backend {
	case BackendTreeSitter:
		if p.treeSitter == nil {
			p.treeSitter = newTreeSitterParser()
		}
		unit, err = p.treeSitter.parse(path, src, p.ignore)
	case BackendBuiltin:
		unit, err = newHeaderParser(path, src, p.ignore).parse()
	default:
		return nil, fmt.Errorf("unknown parser backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		p.cache.Set(key, unit)
	}
	return unit, nil
}

func (p *Parser) backendFor(path string) Backend {
	if p.backend != BackendAuto {
		return p.backend
	}
	if strings.ToLower(filepath.Ext(path)) == ".c" {
		return BackendTreeSitter
	}
	return BackendBuiltin
}

// Parse parses header text with the builtin backend.
func Parse(path string, src []byte) (*model.Unit, error) {
	return New().Parse(path, src)
}

// isObjectiveC reports whether src uses Objective-C constructs that only the
// builtin backend understands.
func isObjectiveC(src []byte) bool {
	for _, marker := range [][]byte{[]byte("@interface"), []byte("@protocol"), []byte("@class"), []byte("(^"), []byte("#import")} {
		if bytes.Contains(src, marker) {
			return true
		}
	}
	return false
}

// builder accumulates the symbols of one unit. Both backends use it so that
// they agree on naming and merging rules.
type builder struct {
	unit      *model.Unit
	file      string
	constants map[string]int64
	anon      int
}

func newBuilder(path string) *builder {
	return &builder{
		unit:      model.NewUnit(path),
		file:      path,
		constants: make(map[string]int64),
	}
}

func (b *builder) loc(line, col int) model.Location {
	return model.Location{File: b.file, Line: line, Column: col}
}

// lookupConst resolves enumerators and integer macros.
func (b *builder) lookupConst(name string) (int64, bool) {
	v, ok := b.constants[name]
	return v, ok
}

func (b *builder) add(sym *model.Symbol) error {
	if err := b.unit.Add(sym); err != nil {
		return errors.Parsef(sym.Loc, "%v", err)
	}
	return nil
}

// anonName returns a unique name for an anonymous struct, union or enum.
func (b *builder) anonName(hint string) string {
	b.anon++
	if hint == "" {
		return fmt.Sprintf("Anon%d", b.anon)
	}
	if _, taken := b.unit.Lookup(hint); !taken {
		return hint
	}
	return fmt.Sprintf("%s%d", hint, b.anon)
}

// bindAnon names an anonymous definition after its first use and adds it.
func (b *builder) bindAnon(anon *model.Symbol, typ *model.Type, hint string) error {
	name := b.anonName(hint)
	anon.Name = name
	typ.Name = name
	return b.add(anon)
}

func (b *builder) addEnum(name string, def *model.EnumDef, loc model.Location, doc string) error {
	return b.add(&model.Symbol{Name: name, Kind: model.SymbolEnum, Loc: loc, Doc: doc, Enum: def})
}

// addEnumerators registers enumerator values for later constant expressions.
func (b *builder) addEnumerators(values []model.EnumValue) {
	for _, v := range values {
		b.constants[v.Name] = v.Value
	}
}

func (b *builder) addConstant(name string, v int64, loc model.Location, doc string) error {
	b.constants[name] = v
	return b.add(&model.Symbol{Name: name, Kind: model.SymbolConstant, Loc: loc, Doc: doc, Constant: v})
}

// addTypedef records "typedef t name". A typedef that names its own tag
// (typedef struct X X) is folded into the tag symbol.
func (b *builder) addTypedef(name string, t *model.Type, loc model.Location, doc string) error {
	switch t.Kind {
	case model.KindStruct, model.KindUnion, model.KindEnum:
		if t.Name == name {
			if _, ok := b.unit.Lookup(name); !ok && t.Kind != model.KindEnum {
				kind := model.SymbolStruct
				if t.Kind == model.KindUnion {
					kind = model.SymbolUnion
				}
				return b.add(&model.Symbol{Name: name, Kind: kind, Loc: loc, Doc: doc,
					Struct: &model.StructDef{Opaque: true, Union: t.Kind == model.KindUnion, Tagged: true}})
			}
			return nil
		}
	}
	kind := model.SymbolTypedef
	if t.Kind == model.KindBlock {
		kind = model.SymbolBlock
	}
	return b.add(&model.Symbol{Name: name, Kind: kind, Loc: loc, Doc: doc, Typedef: t})
}

// commentText normalizes an attached documentation comment.
func commentText(doc string) string {
	return strings.TrimSpace(doc)
}
