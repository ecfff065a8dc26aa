package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"ffibind/internal/config"
	"ffibind/internal/parser"
	"ffibind/internal/pipeline"
	"ffibind/internal/watch"
)

const watchCacheSize = 256

type generateOptions struct {
	*globalOptions
	out             string
	pkg             string
	lib             string
	platform        string
	failOnEmitError bool
	watch           bool
	progress        bool
}

func newGenerateCommand(global *globalOptions) *cobra.Command {
	opts := &generateOptions{globalOptions: global}
	cmd := &cobra.Command{
		Use:   "generate <header>...",
		Short: "Generate Go bindings for header files",
		Long: `Generate parses each header, resolves its symbols, computes struct
layouts and writes the bindings of every header that succeeded. Headers
are independent: a failing header does not stop the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.out, "out", "o", "", "output directory")
	f.StringVar(&opts.pkg, "package", "", "Go package name of the bindings")
	f.StringVar(&opts.lib, "lib", "", "native library base name")
	f.StringVar(&opts.platform, "platform", "", "host platform of the layout assertions")
	f.BoolVar(&opts.failOnEmitError, "fail-on-emit-error", false, "fail a header when any symbol cannot be emitted")
	f.BoolVarP(&opts.watch, "watch", "w", false, "regenerate when headers change")
	f.BoolVar(&opts.progress, "progress", false, "show a progress bar on terminals")
	return cmd
}

// apply overrides cfg with the flags set on the command line.
func (o *generateOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("out") {
		cfg.Output = o.out
	}
	if flags.Changed("package") {
		cfg.Package = o.pkg
	}
	if flags.Changed("lib") {
		cfg.Library = o.lib
	}
	if flags.Changed("platform") {
		cfg.Layout.Platform = o.platform
	}
	if flags.Changed("fail-on-emit-error") {
		cfg.Emit.FailOnEmitError = o.failOnEmitError
	}
	return config.Validate(cfg)
}

func (o *generateOptions) run(cmd *cobra.Command, headers []string) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	if err := o.apply(cmd, cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := newLogger(cfg.Log, o.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	installLogger(logger)

	writer, err := pipeline.NewWriter(cfg.Output)
	if err != nil {
		return err
	}
	opts := []pipeline.Option{pipeline.WithWriter(writer)}

	var bar *progressbar.ProgressBar
	if o.progress && isTerminal(cmd.ErrOrStderr()) {
		bar = newProgressBar(cmd.ErrOrStderr(), len(headers))
		opts = append(opts, pipeline.WithObserver(func(t pipeline.Transition) {
			if bar != nil && t.To.Terminal() {
				_ = bar.Add(1)
			}
		}))
	}

	if o.watch {
		cache, err := parser.NewCache(watchCacheSize)
		if err != nil {
			return err
		}
		defer cache.Close()
		opts = append(opts, pipeline.WithCache(cache))
	}

	p, err := pipeline.New(cfg, opts...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	results := p.RunAll(ctx, headers)
	if bar != nil {
		_ = bar.Finish()
		bar = nil
	}
	printResults(cmd.OutOrStdout(), results)

	if o.watch {
		return watchHeaders(ctx, cmd.OutOrStdout(), p, headers)
	}
	return failures(results)
}

// watchHeaders regenerates changed headers until ctx is done.
func watchHeaders(ctx context.Context, out io.Writer, p *pipeline.Pipeline, headers []string) error {
	w, err := watch.New(headers)
	if err != nil {
		return err
	}
	defer w.Close()

	watch.Logger().Info("watching headers", zap.Strings("headers", headers))
	return w.Run(ctx, func(changed []string) {
		printResults(out, p.RunAll(ctx, changed))
	})
}

func failures(results []*pipeline.Result) error {
	var failed int
	for _, res := range results {
		if res.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d header(s) failed", failed, len(results))
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
