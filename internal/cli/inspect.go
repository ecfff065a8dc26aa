package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"ffibind/internal/config"
	"ffibind/internal/layout"
	"ffibind/internal/model"
	"ffibind/internal/parser"
	"ffibind/internal/resolver"
)

func newSymbolsCommand(global *globalOptions) *cobra.Command {
	var kinds []string
	cmd := &cobra.Command{
		Use:   "symbols <header>",
		Short: "List the symbols declared by a header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			unit, err := parseHeader(cfg, args[0])
			if err != nil {
				return err
			}

			wanted := map[model.SymbolKind]bool{}
			for _, k := range kinds {
				wanted[model.SymbolKind(strings.ToLower(k))] = true
			}
			var rows [][]string
			for _, sym := range unit.Symbols {
				if len(wanted) > 0 && !wanted[sym.Kind] {
					continue
				}
				rows = append(rows, []string{string(sym.Kind), sym.Name, sym.Loc.String()})
			}
			printTable(cmd.OutOrStdout(), []string{"KIND", "NAME", "LOCATION"}, rows)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&kinds, "kind", "k", nil, "only list symbols of these kinds")
	return cmd
}

func newLayoutCommand(global *globalOptions) *cobra.Command {
	var (
		platform     string
		allPlatforms bool
	)
	cmd := &cobra.Command{
		Use:   "layout <header>",
		Short: "Print the computed struct layouts of a header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("platform") {
				cfg.Layout.Platform = platform
			}

			names := []string{cfg.Layout.Platform}
			if allPlatforms {
				names = layout.PlatformNames()
			}

			unit, err := parseHeader(cfg, args[0])
			if err != nil {
				return err
			}
			graph, err := resolverFor(cfg).Resolve(unit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, name := range names {
				p, err := layout.LookupPlatform(name)
				if err != nil {
					return err
				}
				layouts, err := layout.NewCalculator(graph, p, layout.WithEnumPolicy(cfg.EnumPolicy())).All()
				if err != nil {
					return err
				}
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "%s\n", newStyles(out).header.Render(p.Name))
				printTable(out, []string{"STRUCT", "FIELD", "TYPE", "OFFSET", "SIZE", "ALIGN"}, layoutRows(layouts))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "layout platform")
	cmd.Flags().BoolVar(&allPlatforms, "all-platforms", false, "print the layouts of every known platform")
	return cmd
}

// layoutRows lists each struct followed by its fields. Bit-fields show
// their offset as byte:bit.
func layoutRows(layouts []layout.StructLayout) [][]string {
	var rows [][]string
	for _, l := range layouts {
		kind := "struct"
		if l.Union {
			kind = "union"
		}
		rows = append(rows, []string{l.Name, "", kind, "", strconv.Itoa(l.Size), strconv.Itoa(l.Align)})
		for _, f := range l.Fields {
			offset := strconv.Itoa(f.Offset)
			if f.BitWidth != 0 {
				offset = fmt.Sprintf("%d:%d", f.Offset, f.BitOffset)
			}
			rows = append(rows, []string{"", f.Name, f.Type, offset, strconv.Itoa(f.Size), strconv.Itoa(f.Align)})
		}
	}
	return rows
}

func parseHeader(cfg *config.Config, path string) (*model.Unit, error) {
	p := parser.New(
		parser.WithBackend(parser.Backend(strings.ToLower(cfg.Parser.Backend))),
		parser.WithIgnoredMacros(cfg.Parser.IgnoreMacros...),
	)
	return p.ParseFile(path)
}

func resolverFor(cfg *config.Config) *resolver.Resolver {
	return resolver.New(
		resolver.WithExternalClasses(cfg.ObjC.ExternalClasses...),
		resolver.WithRetained(cfg.Ownership.Retained...),
	)
}
