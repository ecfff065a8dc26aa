// Package pipeline runs header units through parsing, resolution, layout
// and emission, and writes the bindings of units that succeeded.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ffibind/internal/config"
	"ffibind/internal/errors"
	"ffibind/internal/generator"
	"ffibind/internal/layout"
	"ffibind/internal/parser"
	"ffibind/internal/resolver"
)

// Result is the outcome of one unit.
type Result struct {
	RunID string
	Unit  string
	State State
	// Stage and Err describe the failure when State is StateFailed. Err is
	// an *errors.StageError.
	Stage errors.Phase
	Err   error

	Files    map[string][]byte
	Written  []string
	Summary  *errors.EmitSummary // symbols that could not be emitted
	Symbols  int
	Structs  int
	Duration time.Duration
}

// Failed reports whether the unit failed.
func (r *Result) Failed() bool {
	return r.State == StateFailed
}

// Pipeline generates bindings for header units.
type Pipeline struct {
	cfg       *config.Config
	parser    *parser.Parser
	resolver  *resolver.Resolver
	generator *generator.Generator
	host      layout.Platform
	others    []layout.Platform
	writer    *Writer
	observe   func(Transition)
	cache     *parser.Cache
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWriter writes the files of successful units. Without a writer the
// files are only returned.
func WithWriter(w *Writer) Option {
	return func(p *Pipeline) { p.writer = w }
}

// WithObserver receives every state transition.
func WithObserver(fn func(Transition)) Option {
	return func(p *Pipeline) { p.observe = fn }
}

// WithCache reuses parse results across runs.
func WithCache(c *parser.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// New creates a pipeline for a validated configuration.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	host, err := layout.LookupPlatform(cfg.Layout.Platform)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg, host: host}
	seen := map[string]bool{host.Name: true}
	for _, name := range cfg.Layout.Platforms {
		if seen[name] {
			continue
		}
		seen[name] = true
		other, err := layout.LookupPlatform(name)
		if err != nil {
			return nil, err
		}
		p.others = append(p.others, other)
	}

	for _, opt := range opts {
		opt(p)
	}

	parserOpts := []parser.Option{
		parser.WithBackend(parser.Backend(strings.ToLower(cfg.Parser.Backend))),
		parser.WithIgnoredMacros(cfg.Parser.IgnoreMacros...),
	}
	if p.cache != nil {
		parserOpts = append(parserOpts, parser.WithCache(p.cache))
	}
	p.parser = parser.New(parserOpts...)
	p.resolver = resolver.New(
		resolver.WithExternalClasses(cfg.ObjC.ExternalClasses...),
		resolver.WithRetained(cfg.Ownership.Retained...),
	)

	p.generator = generator.New(cfg)
	if cfg.Emit.Templates != "" {
		if err := p.generator.LoadTemplates(cfg.Emit.Templates); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// RunAll runs every unit in order. Units are independent: a failed unit
// does not stop the others. Units not started before ctx is done are
// reported as failed with ctx's error.
func (p *Pipeline) RunAll(ctx context.Context, paths []string) []*Result {
	runID := uuid.New().String()
	results := make([]*Result, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			m := newMachine(runID, path, p.observe)
			results = append(results, &Result{
				RunID: runID,
				Unit:  path,
				State: StateFailed,
				Stage: errors.PhaseParse,
				Err:   m.fail(errors.PhaseParse, err),
			})
			continue
		}
		results = append(results, p.run(runID, path, nil))
	}
	return results
}

// Run reads and runs one unit.
func (p *Pipeline) Run(path string) *Result {
	return p.run(uuid.New().String(), path, nil)
}

// RunSource runs one unit from memory.
func (p *Pipeline) RunSource(path string, src []byte) *Result {
	return p.run(uuid.New().String(), path, src)
}

func (p *Pipeline) run(runID, path string, src []byte) *Result {
	start := time.Now()
	m := newMachine(runID, path, p.observe)
	res := &Result{RunID: runID, Unit: path}
	log := Logger().With(zap.String("run", runID), zap.String("unit", path))

	failed := func(stage errors.Phase, err error) *Result {
		res.Err = m.fail(stage, err)
		res.State = m.state
		res.Stage = stage
		res.Files = nil
		res.Duration = time.Since(start)
		log.Error("unit failed",
			zap.String("stage", string(stage)),
			zap.Duration("duration", res.Duration),
			zap.Error(err))
		return res
	}
	advance := func(to State, stage errors.Phase) bool {
		if err := m.advance(to); err != nil {
			failed(stage, err)
			return false
		}
		return true
	}

	if !advance(StateParsing, errors.PhaseParse) {
		return res
	}
	if src == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return failed(errors.PhaseParse, fmt.Errorf("reading %s: %w", path, err))
		}
		src = data
	}
	unit, err := p.parser.Parse(path, src)
	if err != nil {
		return failed(errors.PhaseParse, err)
	}
	res.Symbols = len(unit.Symbols)

	if !advance(StateResolving, errors.PhaseResolve) {
		return res
	}
	graph, err := p.resolver.Resolve(unit)
	if err != nil {
		return failed(errors.PhaseResolve, err)
	}

	host := p.calculator(graph, p.host)
	layouts, err := host.All()
	if err != nil {
		return failed(errors.PhaseLayout, err)
	}
	res.Structs = len(layouts)
	others := make([]*layout.Calculator, 0, len(p.others))
	for _, platform := range p.others {
		c := p.calculator(graph, platform)
		if _, err := c.All(); err != nil {
			return failed(errors.PhaseLayout, err)
		}
		others = append(others, c)
	}
	if !advance(StateLayoutComputed, errors.PhaseLayout) {
		return res
	}

	if !advance(StateEmitting, errors.PhaseEmit) {
		return res
	}
	out, err := p.generator.Generate(graph, host, others...)
	if err != nil {
		return failed(errors.PhaseEmit, err)
	}
	res.Summary = out.Summary
	if out.Summary != nil && p.cfg.Emit.FailOnEmitError {
		return failed(errors.PhaseEmit, out.Summary)
	}
	res.Files = out.Files

	if p.writer != nil {
		written, err := p.writer.Write(runID, out.Files)
		res.Written = written
		if err != nil {
			return failed(errors.PhaseWrite, err)
		}
	}

	if !advance(StateDone, errors.PhaseWrite) {
		return res
	}
	res.State = m.state
	res.Duration = time.Since(start)

	fields := []zap.Field{
		zap.Int("symbols", res.Symbols),
		zap.Int("structs", res.Structs),
		zap.Int("files", len(res.Files)),
		zap.Duration("duration", res.Duration),
	}
	if res.Summary != nil {
		log.Warn("unit generated with failures", append(fields, zap.Int("failures", len(res.Summary.Failures)))...)
	} else {
		log.Info("unit generated", fields...)
	}
	return res
}

func (p *Pipeline) calculator(graph *resolver.Graph, platform layout.Platform) *layout.Calculator {
	return layout.NewCalculator(graph, platform, layout.WithEnumPolicy(p.cfg.EnumPolicy()))
}
