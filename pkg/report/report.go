// Package report renders run and merge results for the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/engine"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/merge"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/registry"
	ktesting "github.com/ormasoftchile/tasksmith/pkg/kernel/testing"
)

// Status glyphs; meaning does not depend on color alone.
const (
	GlyphPassed = "✓"
	GlyphFailed = "✗"
	GlyphDup    = "≡"
	GlyphWarn   = "⚠"
	GlyphSkip   = "○"
)

var (
	colorGreen = lipgloss.Color("42")
	colorRed   = lipgloss.Color("196")
	colorCyan  = lipgloss.Color("51")
	colorDim   = lipgloss.Color("240")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	okStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	failStyle   = lipgloss.NewStyle().Foreground(colorRed)
	dimStyle    = lipgloss.NewStyle().Foreground(colorDim)
)

// maxCell bounds argument and output columns.
const maxCell = 60

// Actions prints an aligned table of actions: index, name, arguments and
// output, each cell truncated to a readable width.
func Actions(w io.Writer, actions []engine.Action) {
	rows := make([][]string, len(actions))
	for i, a := range actions {
		rows[i] = []string{
			fmt.Sprintf("%d", i+1),
			a.Name,
			argsText(a),
			a.Output.JSON(),
		}
	}
	table(w, []string{"#", "ACTION", "ARGUMENTS", "OUTPUT"}, rows)
}

// Run prints the outcome of one scenario run.
func Run(w io.Writer, res *engine.Result) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s %s", GlyphPassed, res.Scenario)),
		dimStyle.Render(fmt.Sprintf("(%s, interface %d, %d steps, %d actions, %s)",
			res.Environment, res.Interface, len(res.Steps), len(res.Actions), res.Duration.Round(time.Millisecond))))
	Actions(w, res.Actions)
}

// MergeSummary prints an execution merge: one line per request, the summary
// and the merged action table.
func MergeSummary(w io.Writer, res *merge.ActionResult) {
	for _, d := range res.Executions {
		if d.Success {
			fmt.Fprintf(w, "  %s %s %s\n", okStyle.Render(GlyphPassed), d.Scenario,
				dimStyle.Render(fmt.Sprintf("%d actions, %s", d.Actions, d.Duration.Round(time.Millisecond))))
			continue
		}
		fmt.Fprintf(w, "  %s %s %s\n", failStyle.Render(GlyphFailed), d.Scenario, failStyle.Render(d.Error))
	}
	fmt.Fprintln(w, headerStyle.Render(res.Summary()))

	rows := make([][]string, len(res.Actions))
	for i, a := range res.Actions {
		sources := strings.Join(a.Scenarios, ", ")
		if len(a.Scenarios) > 1 {
			sources = GlyphDup + " " + sources
		}
		rows[i] = []string{fmt.Sprintf("%d", i+1), a.Name, argsText(a.Action), sources}
	}
	table(w, []string{"#", "ACTION", "ARGUMENTS", "SCENARIOS"}, rows)
}

// TemplateSummary prints a template merge.
func TemplateSummary(w io.Writer, res *merge.TemplateResult) {
	fmt.Fprintln(w, headerStyle.Render(res.Summary()))
	rows := make([][]string, len(res.MergedSteps))
	for i, s := range res.MergedSteps {
		sources := strings.Join(s.Scenarios, ", ")
		if len(s.Scenarios) > 1 {
			sources = GlyphDup + " " + sources
		}
		rows[i] = []string{fmt.Sprintf("%d", i+1), s.Step.ID, s.Step.Action, sources}
	}
	table(w, []string{"#", "STEP", "ACTION", "SCENARIOS"}, rows)
}

// Scenarios prints the registry listing of one environment and interface.
func Scenarios(w io.Writer, infos []registry.Info) {
	rows := make([][]string, len(infos))
	for i, in := range infos {
		var required []string
		for _, def := range in.Inputs {
			if def.Required {
				required = append(required, def.Name)
			}
		}
		rows[i] = []string{in.Name, fmt.Sprintf("%d", in.Steps), strings.Join(required, ", "), in.Description}
	}
	table(w, []string{"SCENARIO", "STEPS", "REQUIRED INPUTS", "DESCRIPTION"}, rows)
}

// Tests prints the outcome of a scenario's test cases. Only failed
// assertions are listed.
func Tests(w io.Writer, out *ktesting.TestOutput) {
	fmt.Fprintf(w, "\n  %s\n", headerStyle.Render(out.Scenario))
	for _, c := range out.Cases {
		icon := okStyle.Render(GlyphPassed)
		switch c.Status {
		case "failed":
			icon = failStyle.Render(GlyphFailed)
		case "error":
			icon = failStyle.Render(GlyphWarn)
		case "skipped":
			icon = dimStyle.Render(GlyphSkip)
		}
		fmt.Fprintf(w, "    %s %s %s\n", icon, c.CaseName, dimStyle.Render(fmt.Sprintf("(%dms)", c.DurationMs)))
		if c.Error != "" {
			fmt.Fprintf(w, "      error: %s\n", c.Error)
		}
		for _, a := range c.Assertions {
			if !a.Passed {
				fmt.Fprintf(w, "      %s %s: %s\n", GlyphFailed, a.Type, a.Message)
			}
		}
	}
	s := out.Summary
	fmt.Fprintf(w, "\n  %d passed, %d failed, %d skipped, %d errors (total: %d)\n",
		s.Passed, s.Failed, s.Skipped, s.Errors, s.Total)
}

// Failure prints err the way the CLI reports problems.
func Failure(w io.Writer, err error) {
	fmt.Fprintf(w, "  %s %s\n", failStyle.Render(GlyphWarn), err)
	if kind := engine.KindOf(err); kind != "" {
		fmt.Fprintf(w, "    kind: %s\n", kind)
	}
}

func argsText(a engine.Action) string {
	if len(a.Arguments) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(a.Arguments))
	for _, k := range sortedArgs(a) {
		parts = append(parts, k+"="+a.Arguments[k].Text())
	}
	return strings.Join(parts, " ")
}

func sortedArgs(a engine.Action) []string {
	keys := make([]string, 0, len(a.Arguments))
	for k := range a.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// table writes columns padded by display width so wide runes line up.
func table(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i := range row {
			row[i] = runewidth.Truncate(strings.ReplaceAll(row[i], "\n", " "), maxCell, "…")
			if cw := runewidth.StringWidth(row[i]); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	line := func(cells []string) string {
		var b strings.Builder
		for i, c := range cells {
			if i == len(cells)-1 {
				b.WriteString(c)
				break
			}
			b.WriteString(runewidth.FillRight(c, widths[i]))
			b.WriteString("  ")
		}
		return strings.TrimRight(b.String(), " ")
	}

	fmt.Fprintln(w, dimStyle.Render(line(header)))
	for _, row := range rows {
		fmt.Fprintln(w, line(row))
	}
}
