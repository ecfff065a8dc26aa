package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"ffibind/internal/pipeline"
)

// styles renders for one writer. Colors are dropped when w is not a
// terminal.
type styles struct {
	ok     lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	dim    lipgloss.Style
	header lipgloss.Style
	cell   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		ok:     r.NewStyle().Foreground(lipgloss.Color("#90EE90")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("#FFD866")),
		fail:   r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		dim:    r.NewStyle().Foreground(lipgloss.Color("#666666")),
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#87CEEB")),
		cell:   r.NewStyle(),
	}
}

// printResults writes one line per unit, the symbols that could not be
// emitted and a closing total.
func printResults(w io.Writer, results []*pipeline.Result) {
	st := newStyles(w)
	var failed, skipped int
	for _, res := range results {
		if res.Failed() {
			failed++
			fmt.Fprintf(w, "%s %s  %s\n", st.fail.Render("✗"), res.Unit, st.fail.Render(res.Err.Error()))
			continue
		}

		mark := st.ok.Render("✓")
		if res.Summary != nil {
			mark = st.warn.Render("!")
		}
		detail := fmt.Sprintf("%d symbols, %d files, %s", res.Symbols, len(res.Files), res.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "%s %s  %s\n", mark, res.Unit, st.dim.Render(detail))
		if res.Summary == nil {
			continue
		}
		for _, f := range res.Summary.Failures {
			skipped++
			fmt.Fprintf(w, "    %s %s\n", st.warn.Render("skipped"), f.Error())
		}
	}

	fmt.Fprintf(w, "%d unit(s), %d failed, %d symbol(s) skipped\n", len(results), failed, skipped)
}

// printTable writes rows in aligned columns under a bold header.
func printTable(w io.Writer, headers []string, rows [][]string) {
	st := newStyles(w)
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(style lipgloss.Style, cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			if i == len(cells)-1 {
				parts[i] = style.Render(cell)
				continue
			}
			parts[i] = style.Width(widths[i] + 2).Render(cell)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, ""), " "))
	}

	line(st.header, headers)
	for _, row := range rows {
		line(st.cell, row)
	}
}
