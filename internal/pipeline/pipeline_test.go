package pipeline

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ffibind/internal/config"
	"ffibind/internal/errors"
	"ffibind/internal/generator"
	"ffibind/internal/parser"
)

// Test Plan:
// - A successful unit walks Init -> Parsing -> Resolving -> LayoutComputed
//   -> Emitting -> Done and its files are written
// - Each stage failure ends in Failed with the stage and a StageError
// - Failed units write nothing; no staging directory is left behind
// - Emit failures are a summary unless failOnEmitError is set
// - Other layout platforms are verified and added to the manifest
// - Cancelled batches report the remaining units as failed
// - Every run carries a run id

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recorder) observe(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for i, t := range r.transitions {
		if i == 0 {
			out = append(out, t.From)
		}
		out = append(out, t.To)
	}
	return out
}

func newPipeline(t *testing.T, cfg *config.Config, dir string, rec *recorder) *Pipeline {
	t.Helper()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	p, err := New(cfg, WithWriter(w), WithObserver(rec.observe))
	require.NoError(t, err)
	return p
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRun_Success(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := &recorder{}
	p := newPipeline(t, config.Default(), dir, rec)

	res := p.RunSource("point.h", []byte("struct Point { double x; double y; };\ndouble length(struct Point p);\n"))
	require.NoError(t, res.Err)

	assert.Equal(t, StateDone, res.State)
	assert.False(t, res.Failed())
	assert.NotEmpty(t, res.RunID)
	assert.Nil(t, res.Summary)
	assert.Equal(t, 2, res.Symbols)
	assert.Equal(t, 1, res.Structs)
	assert.Equal(t, []State{
		StateInit, StateParsing, StateResolving, StateLayoutComputed, StateEmitting, StateDone,
	}, rec.states())

	assert.ElementsMatch(t, []string{
		generator.RuntimeFile,
		"point_funcs.go",
		"point_layout.yaml",
		"point_layout_linux_amd64.go",
		"point_types.go",
	}, listDir(t, dir))
	require.Len(t, res.Written, 5)
	for _, path := range res.Written {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, res.Files[filepath.Base(path)], data)
	}
}

func TestRun_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		src       string
		configure func(*config.Config)
		stage     errors.Phase
		check     func(t *testing.T, err error)
	}{
		{
			name:  "parse",
			src:   "int f(;\n",
			stage: errors.PhaseParse,
			check: func(t *testing.T, err error) {
				var perr *errors.ParseError
				assert.ErrorAs(t, err, &perr)
			},
		},
		{
			name:  "resolve",
			src:   "Missing make(void);\nOther other(void);\n",
			stage: errors.PhaseResolve,
			check: func(t *testing.T, err error) {
				var uerr *errors.UnresolvedSymbolError
				require.ErrorAs(t, err, &uerr)
				assert.Equal(t, []string{"Missing", "Other"}, uerr.Names())
			},
		},
		{
			name:  "layout",
			src:   "struct Bits { char c : 9; };\n",
			stage: errors.PhaseLayout,
			check: func(t *testing.T, err error) {
				var lerr *errors.LayoutError
				require.ErrorAs(t, err, &lerr)
				assert.Equal(t, "Bits", lerr.Symbol)
			},
		},
		{
			name:      "emit with failOnEmitError",
			src:       "int printf_like(const char *format, ...);\nint ok(int x);\n",
			configure: func(c *config.Config) { c.Emit.FailOnEmitError = true },
			stage:     errors.PhaseEmit,
			check: func(t *testing.T, err error) {
				var summary *errors.EmitSummary
				require.ErrorAs(t, err, &summary)
				assert.Equal(t, []string{"printf_like"}, summary.Symbols())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			if tt.configure != nil {
				tt.configure(cfg)
			}
			dir := t.TempDir()
			rec := &recorder{}
			p := newPipeline(t, cfg, dir, rec)

			res := p.RunSource("bad.h", []byte(tt.src))

			assert.True(t, res.Failed())
			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, tt.stage, res.Stage)
			assert.Nil(t, res.Files)
			assert.Empty(t, listDir(t, dir), "a failed unit writes nothing")

			var stageErr *errors.StageError
			require.ErrorAs(t, res.Err, &stageErr)
			assert.Equal(t, string(tt.stage), stageErr.Stage)
			assert.Equal(t, tt.stage, errors.PhaseOf(res.Err))
			tt.check(t, res.Err)

			states := rec.states()
			require.NotEmpty(t, states)
			assert.Equal(t, StateFailed, states[len(states)-1])
		})
	}
}

func TestRun_EmitFailuresAreSummarized(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := newPipeline(t, config.Default(), dir, &recorder{})

	res := p.RunSource("mixed.h", []byte("int printf_like(const char *format, ...);\nint ok(int x);\n"))
	require.NoError(t, res.Err)

	assert.Equal(t, StateDone, res.State)
	require.NotNil(t, res.Summary)
	assert.Equal(t, []string{"printf_like"}, res.Summary.Symbols())
	assert.Contains(t, string(res.Files["mixed_funcs.go"]), "func Ok(x int32) int32 {")
	assert.FileExists(t, filepath.Join(dir, "mixed_funcs.go"))
}

func TestRun_WriteFailure(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	rec := &recorder{}
	p := newPipeline(t, config.Default(), dir, rec)

	// Replace the output directory with a file so that staging fails.
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, nil, 0o644))

	res := p.RunSource("unit.h", []byte("int add(int a, int b);\n"))
	assert.True(t, res.Failed())
	assert.Equal(t, errors.PhaseWrite, res.Stage)

	var werr *errors.WriteError
	assert.ErrorAs(t, res.Err, &werr)
	assert.Empty(t, res.Written)
}

func TestRun_ReadsFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	header := filepath.Join(dir, "lib.h")
	require.NoError(t, os.WriteFile(header, []byte("int add(int a, int b);\n"), 0o644))

	p, err := New(config.Default())
	require.NoError(t, err)

	res := p.Run(header)
	require.NoError(t, res.Err)
	assert.Contains(t, res.Files, "lib_funcs.go")
	assert.Empty(t, res.Written, "no writer configured")

	res = p.Run(filepath.Join(dir, "absent.h"))
	assert.Equal(t, errors.PhaseParse, res.Stage)
	assert.True(t, stderrors.Is(res.Err, os.ErrNotExist))
}

func TestRun_OtherPlatforms(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Layout.Platforms = []string{"linux-ia32", "windows-x64", "linux-x64"}
	p, err := New(cfg)
	require.NoError(t, err)

	res := p.RunSource("long.h", []byte("struct S { char c; long l; };\n"))
	require.NoError(t, res.Err)

	manifest := string(res.Files["long_layout.yaml"])
	for _, platform := range []string{"linux-x64", "linux-ia32", "windows-x64"} {
		assert.Contains(t, manifest, platform)
	}
}

func TestRun_Cache(t *testing.T) {
	t.Parallel()

	cache, err := parser.NewCache(16)
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	p, err := New(config.Default(), WithCache(cache))
	require.NoError(t, err)

	src := []byte("int add(int a, int b);\n")
	require.NoError(t, p.RunSource("cached.h", src).Err)
	require.NoError(t, p.RunSource("cached.h", src).Err)
	assert.Equal(t, int64(1), cache.Hits())
}

func TestRunAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.h")
	bad := filepath.Join(dir, "bad.h")
	require.NoError(t, os.WriteFile(good, []byte("int add(int a, int b);\n"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("struct S {\n"), 0o644))

	p, err := New(config.Default())
	require.NoError(t, err)

	results := p.RunAll(context.Background(), []string{bad, good})
	require.Len(t, results, 2)
	assert.True(t, results[0].Failed())
	assert.Equal(t, StateDone, results[1].State)
	assert.Equal(t, results[0].RunID, results[1].RunID, "units of one batch share the run id")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results = p.RunAll(ctx, []string{good})
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed())
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Layout.Platform = "plan9-mips"
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidPlatform)

	cfg = config.Default()
	cfg.Emit.Templates = filepath.Join(t.TempDir(), "none")
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestMachine(t *testing.T) {
	t.Parallel()

	m := newMachine("run", "unit.h", nil)
	assert.Error(t, m.advance(StateResolving), "states cannot be skipped")
	require.NoError(t, m.advance(StateParsing))

	err := m.fail(errors.PhaseParse, stderrors.New("boom"))
	assert.Equal(t, StateFailed, m.state)
	assert.True(t, strings.HasPrefix(err.Error(), "stage parse failed"))
	assert.Error(t, m.advance(StateResolving), "failed runs do not continue")
	assert.True(t, StateDone.Terminal())
	assert.False(t, StateEmitting.Terminal())
}

func TestWriter_RejectsDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, w.Dir())

	_, err = w.Write("run", map[string][]byte{"ok.go": nil, "../escape.go": nil})
	var werr *errors.WriteError
	require.ErrorAs(t, err, &werr)
	assert.Empty(t, listDir(t, dir))
}

func TestWriter_ReplacesExistingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("old"), 0o644))
	w, err := NewWriter(dir)
	require.NoError(t, err)

	paths, err := w.Write("run", map[string][]byte{"a.go": []byte("new"), "b.go": []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.go"), filepath.Join(dir, "b.go")}, paths)

	data, err := os.ReadFile(filepath.Join(dir, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, listDir(t, dir))
}

func TestWriter_RollsBackPartialUnit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("old"), 0o644))
	// c.go sorts last, so a.go and b.go are already in place when it fails.
	blocker := filepath.Join(dir, "c.go")
	require.NoError(t, os.MkdirAll(filepath.Join(blocker, "keep"), 0o755))

	w, err := NewWriter(dir)
	require.NoError(t, err)
	paths, err := w.Write("run", map[string][]byte{
		"a.go": []byte("new"),
		"b.go": []byte("b"),
		"c.go": []byte("c"),
	})

	var werr *errors.WriteError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, blocker, werr.Path)
	assert.Empty(t, paths)

	data, err := os.ReadFile(filepath.Join(dir, "a.go"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data), "the replaced file is restored")
	assert.NoFileExists(t, filepath.Join(dir, "b.go"))
	assert.DirExists(t, filepath.Join(blocker, "keep"))
	assert.ElementsMatch(t, []string{"a.go", "c.go"}, listDir(t, dir), "no staging directory is left behind")
}

func TestRun_WriteFailureLeavesNoFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := &recorder{}
	p := newPipeline(t, config.Default(), dir, rec)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "point_funcs.go", "sub"), 0o755))

	res := p.RunSource("point.h", []byte("struct Point { double x; double y; };\ndouble length(struct Point p);\n"))
	assert.True(t, res.Failed())
	assert.Equal(t, errors.PhaseWrite, res.Stage)
	assert.Empty(t, res.Written)
	assert.Equal(t, []string{"point_funcs.go"}, listDir(t, dir))
}
