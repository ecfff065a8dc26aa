package resolver

import (
	stderrors "errors"
	"fmt"

	"github.com/dominikbraun/graph"

	"ffibind/internal/errors"
	"ffibind/internal/model"
)

// Graph is a resolved unit. Symbols keep declaration order; Ordered lists
// them so that every symbol follows the symbols it contains by value.
type Graph struct {
	Unit    string
	Symbols []*model.Symbol
	Ordered []*model.Symbol

	index    map[string]*model.Symbol
	decl     map[string]int
	external map[string]bool
	forward  map[string]bool // @class names without an @interface in the unit
}

func newGraph(unit string, external map[string]bool) *Graph {
	return &Graph{
		Unit:     unit,
		index:    make(map[string]*model.Symbol),
		decl:     make(map[string]int),
		external: external,
		forward:  make(map[string]bool),
	}
}

func (g *Graph) add(sym *model.Symbol) {
	g.decl[sym.Name] = len(g.Symbols)
	g.index[sym.Name] = sym
	g.Symbols = append(g.Symbols, sym)
}

// Lookup returns the resolved symbol with the given name.
func (g *Graph) Lookup(name string) (*model.Symbol, bool) {
	s, ok := g.index[name]
	return s, ok
}

// Kind returns the resolved symbols of one kind in declaration order.
func (g *Graph) Kind(kind model.SymbolKind) []*model.Symbol {
	var out []*model.Symbol
	for _, s := range g.Symbols {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// IsExternalClass reports whether name is an Objective-C class that is not
// defined by the unit.
func (g *Graph) IsExternalClass(name string) bool {
	if _, ok := g.index[name]; ok {
		return false
	}
	return g.external[name] || g.forward[name]
}

// LookupMethod finds a method by selector on class or the nearest
// superclass declaring it. Only the single-parent chain is searched;
// protocols and categories of external classes are not.
func (g *Graph) LookupMethod(class, selector string, classMethod bool) (*model.Method, string, bool) {
	seen := make(map[string]bool)
	for name := class; name != "" && !seen[name]; {
		seen[name] = true
		sym, ok := g.index[name]
		if !ok || sym.Kind != model.SymbolInterface {
			return nil, "", false
		}
		if m, ok := sym.Interface.Method(selector, classMethod); ok {
			return m, name, true
		}
		name = sym.Interface.Super
	}
	return nil, "", false
}

// Supers returns the superclass chain of class, nearest first, ending at
// the first class not defined in the unit.
func (g *Graph) Supers(class string) []string {
	var chain []string
	seen := map[string]bool{class: true}
	for sym, ok := g.index[class]; ok && sym.Kind == model.SymbolInterface; {
		super := sym.Interface.Super
		if super == "" || seen[super] {
			break
		}
		seen[super] = true
		chain = append(chain, super)
		sym, ok = g.index[super]
	}
	return chain
}

// order builds the by-value dependency graph and computes Ordered. Ties are
// broken by declaration order so the result is stable.
func (g *Graph) order() error {
	deps := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, sym := range g.Symbols {
		if err := deps.AddVertex(sym.Name); err != nil {
			return fmt.Errorf("adding %s to dependency graph: %w", sym.Name, err)
		}
	}

	for _, sym := range g.Symbols {
		for _, dep := range g.valueDeps(sym) {
			if _, ok := g.index[dep]; !ok {
				continue
			}
			if dep == sym.Name {
				return &errors.ResolveError{Symbol: sym.Name, Detail: "contains itself by value"}
			}
			err := deps.AddEdge(dep, sym.Name)
			switch {
			case err == nil, stderrors.Is(err, graph.ErrEdgeAlreadyExists):
			case stderrors.Is(err, graph.ErrEdgeCreatesCycle):
				return &errors.ResolveError{Symbol: sym.Name, Detail: fmt.Sprintf("by-value cycle through %s", dep)}
			default:
				return fmt.Errorf("adding dependency %s -> %s: %w", dep, sym.Name, err)
			}
		}
	}

	names, err := graph.StableTopologicalSort(deps, func(a, b string) bool {
		return g.decl[a] < g.decl[b]
	})
	if err != nil {
		return fmt.Errorf("ordering %s: %w", g.Unit, err)
	}
	g.Ordered = make([]*model.Symbol, len(names))
	for i, name := range names {
		g.Ordered[i] = g.index[name]
	}
	return nil
}

// valueDeps returns the symbols whose complete definition sym needs.
func (g *Graph) valueDeps(sym *model.Symbol) []string {
	var out []string
	switch sym.Kind {
	case model.SymbolStruct, model.SymbolUnion:
		for _, f := range sym.Struct.Fields {
			out = appendValueDeps(out, f.Type)
		}
	case model.SymbolTypedef:
		out = appendValueDeps(out, sym.Typedef)
	case model.SymbolGlobal:
		out = appendValueDeps(out, sym.Global)
	}
	return out
}

func appendValueDeps(out []string, t *model.Type) []string {
	for t != nil {
		switch t.Kind {
		case model.KindStruct, model.KindUnion, model.KindEnum, model.KindTypedef:
			return append(out, t.Name)
		case model.KindArray:
			t = t.Elem
		default:
			return out
		}
	}
	return out
}
