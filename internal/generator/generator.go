// Package generator emits Go bindings for resolved header units.
package generator

import (
	"bytes"
	"embed"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"unicode"

	"go.uber.org/zap"

	"ffibind/internal/config"
	"ffibind/internal/errors"
	"ffibind/internal/layout"
	"ffibind/internal/resolver"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// RuntimeFile is the file shared by every unit of a package. It is the
// same for all units, so writing it once per unit is harmless.
const RuntimeFile = "ffibind_runtime.go"

const ffiImportPath = "github.com/jupiterrider/ffi"

// Generator executes the binding templates against resolved units.
type Generator struct {
	config   *config.Config
	template *template.Template
}

// New creates a new Generator using the embedded templates.
func New(cfg *config.Config) *Generator {
	tmpl := template.Must(template.New("ffibind").
		Funcs(templateFuncs()).
		ParseFS(templateFS, "templates/*.tmpl"))
	return &Generator{
		config:   cfg,
		template: tmpl,
	}
}

// LoadTemplates overrides templates with the *.tmpl files in dir. A file
// replaces the embedded template of the same name.
func (g *Generator) LoadTemplates(dir string) error {
	tmpl, err := g.template.Clone()
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}
	if _, err := tmpl.ParseGlob(filepath.Join(dir, "*.tmpl")); err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}
	g.template = tmpl
	return nil
}

// Output is the emission result of one unit.
type Output struct {
	Unit  string
	Files map[string][]byte
	// Summary lists the symbols that could not be emitted, nil when every
	// symbol was.
	Summary *errors.EmitSummary
}

// FileNames returns the generated file names in sorted order.
func (o *Output) FileNames() []string {
	names := make([]string, 0, len(o.Files))
	for name := range o.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate emits the bindings of graph. Go declarations and layout
// assertions are computed for host; the layout manifest covers host and
// others. Symbols the bindings cannot represent are reported in the
// summary and the rest still emit. The returned error is reserved for
// failures of the whole unit.
func (g *Generator) Generate(graph *resolver.Graph, host *layout.Calculator, others ...*layout.Calculator) (*Output, error) {
	filter, err := g.config.Filter()
	if err != nil {
		return nil, err
	}
	source := filepath.Base(graph.Unit)
	manifest, err := layout.BuildManifest(source, append([]*layout.Calculator{host}, others...)...)
	if err != nil {
		return nil, err
	}

	base := unitBase(graph.Unit)
	e := newEmitter(g.config, graph, host, filter, goName(base))
	view := e.build()
	view.Package = g.config.Package
	view.Source = source
	view.Library = g.config.Library
	if view.Library == "" {
		view.Library = g.config.Package
	}
	view.Holder = "FFIBindContext_" + base

	out := &Output{Unit: graph.Unit, Files: make(map[string][]byte)}
	summary := &errors.EmitSummary{Unit: graph.Unit, Failures: e.failures}
	header := fmt.Sprintf("// Code generated by ffibind from %s. DO NOT EDIT.", source)

	files := []struct {
		name, tmpl, header string
		emit               bool
	}{
		{RuntimeFile, "runtime.go.tmpl", "// Code generated by ffibind. DO NOT EDIT.", true},
		{base + "_types.go", "types.go.tmpl", header,
			len(view.Consts)+len(view.Enums)+len(view.Structs)+len(view.Opaques)+len(view.Aliases)+len(view.Globals) > 0},
		{base + "_funcs.go", "funcs.go.tmpl", header, len(view.Natives)+len(view.Funcs) > 0},
		{base + "_objc.go", "objc.go.tmpl", header, len(view.Classes) > 0},
		{base + "_blocks.go", "blocks.go.tmpl", header, len(view.Blocks) > 0},
		{layoutFile(base, host.Platform()), "layout.go.tmpl", header, len(view.Structs) > 0},
	}
	for _, f := range files {
		if !f.emit {
			continue
		}
		if err := g.goFile(out, summary, f.name, f.tmpl, f.header, view); err != nil {
			return nil, err
		}
	}

	if len(view.Shims) > 0 {
		var buf bytes.Buffer
		if err := g.template.ExecuteTemplate(&buf, "shim.m.tmpl", view); err != nil {
			return nil, fmt.Errorf("executing shim.m.tmpl: %w", err)
		}
		out.Files[base+"_shim.m"] = buf.Bytes()
	}

	data, err := manifest.Marshal()
	if err != nil {
		return nil, err
	}
	out.Files[base+"_layout.yaml"] = data

	for _, f := range summary.Failures {
		Logger().Warn("symbol not emitted",
			zap.String("unit", graph.Unit),
			zap.String("symbol", f.Symbol),
			zap.String("reason", f.Detail))
	}
	if len(summary.Failures) > 0 {
		out.Summary = summary
	}
	Logger().Debug("unit emitted",
		zap.String("unit", graph.Unit),
		zap.Strings("files", out.FileNames()),
		zap.Int("failures", len(summary.Failures)))
	return out, nil
}

// goFile renders one Go file. Code that does not parse or format is
// reported as an emit failure of the file.
func (g *Generator) goFile(out *Output, summary *errors.EmitSummary, name, tmpl, header string, view *unitView) error {
	var body bytes.Buffer
	if err := g.template.ExecuteTemplate(&body, tmpl, view); err != nil {
		return fmt.Errorf("executing %s: %w", tmpl, err)
	}
	src, err := g.assemble(view.Package, header, body.Bytes())
	if err != nil {
		summary.Failures = append(summary.Failures, errors.Emitf(name, "%v", err))
		return nil
	}
	out.Files[name] = src
	return nil
}

// assemble adds the header, package clause and imports to a rendered body
// and formats the result.
func (g *Generator) assemble(pkg, header string, body []byte) ([]byte, error) {
	bare := append([]byte("package "+pkg+"\n"), body...)
	file, err := parser.ParseFile(token.NewFileSet(), "", bare, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("generated code does not parse: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s\n\npackage %s\n\n", header, pkg)
	if imports := g.imports(file); len(imports) > 0 {
		buf.WriteString("import (\n")
		for i, group := range imports {
			if i > 0 {
				buf.WriteString("\n")
			}
			for _, path := range group {
				fmt.Fprintf(&buf, "\t%q\n", path)
			}
		}
		buf.WriteString(")\n\n")
	}
	buf.Write(body)

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("formatting generated code: %w", err)
	}
	return src, nil
}

// imports returns the import paths file refers to, standard library first.
func (g *Generator) imports(file *ast.File) [][]string {
	known := map[string]string{
		"bridge":   g.bridgeImport(),
		"context":  "context",
		"ffi":      ffiImportPath,
		"filepath": "path/filepath",
		"fmt":      "fmt",
		"runtime":  "runtime",
		"sync":     "sync",
		"unsafe":   "unsafe",
	}
	used := map[string]bool{}
	ast.Inspect(file, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		if id, ok := sel.X.(*ast.Ident); ok {
			if path, ok := known[id.Name]; ok {
				used[path] = true
			}
		}
		return true
	})

	var std, other []string
	for path := range used {
		if path == known["bridge"] || path == known["ffi"] {
			other = append(other, path)
		} else {
			std = append(std, path)
		}
	}
	sort.Strings(std)
	sort.Strings(other)
	var groups [][]string
	for _, group := range [][]string{std, other} {
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

func (g *Generator) bridgeImport() string {
	if g.config.Emit.BridgeImport != "" {
		return g.config.Emit.BridgeImport
	}
	return config.DefaultBridgeImport
}

// unitBase derives the file name prefix of a unit from its path.
func unitBase(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.Map(func(r rune) rune {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, base)
	if base == "" || base == "." {
		return "unit"
	}
	return base
}

// layoutFile names the assertion file so that only the platform's Go
// target compiles it.
func layoutFile(base string, p layout.Platform) string {
	if p.GOOS == "" || p.GOARCH == "" {
		return base + "_layout_assert.go"
	}
	return fmt.Sprintf("%s_layout_%s_%s.go", base, p.GOOS, p.GOARCH)
}
