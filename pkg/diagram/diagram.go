// Package diagram renders the step flow of a scenario, including where each
// step parameter comes from. Supports Mermaid flowchart and ASCII formats.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram string from a parsed scenario.
func Generate(sc *schema.Scenario, format Format) (string, error) {
	if sc == nil {
		return "", fmt.Errorf("nil scenario")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(sc), nil
	case FormatASCII:
		return generateASCII(sc), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- data flow ---

// binding is one resolved step parameter as drawn in a diagram.
type binding struct {
	target string
	from   schema.Source
	origin string // step ID the value flows from; "" for inputs and literals
	label  string
}

// bindings resolves which earlier step feeds each previous_step mapping.
// A bare field name is searched at run time; it is drawn from the step
// right before.
func bindings(sc *schema.Scenario, idx int) []binding {
	step := sc.Steps[idx]
	out := make([]binding, 0, len(step.Inputs))
	for _, m := range step.Inputs {
		b := binding{target: m.Target, from: m.From}
		switch m.From {
		case schema.SourceScenarioInput:
			b.label = "input " + m.Key
		case schema.SourceStatic:
			b.label = truncate(m.StaticText(), 24)
		case schema.SourcePreviousStep:
			b.label = m.Key
			ident, _, dotted := strings.Cut(m.Key, ".")
			switch {
			case !dotted:
				if idx > 0 {
					b.origin = sc.Steps[idx-1].ID
				}
				b.label = m.Key + " (search)"
			case strings.HasPrefix(ident, "@"):
				action := strings.TrimPrefix(ident, "@")
				for j := idx - 1; j >= 0; j-- {
					if sc.Steps[j].Action == action {
						b.origin = sc.Steps[j].ID
						break
					}
				}
			default:
				b.origin = ident
			}
		}
		out = append(out, b)
	}
	return out
}

// --- Mermaid flowchart ---

func generateMermaid(sc *schema.Scenario) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	if len(sc.Steps) == 0 {
		return b.String()
	}

	hasInputs := len(sc.Inputs) > 0 || len(sc.Derived) > 0
	if hasInputs {
		b.WriteString(fmt.Sprintf("    INPUTS[/\"%s\"/]\n", escMermaid(inputsLabel(sc))))
	}
	b.WriteString("    START([Start]) --> " + safeID(sc.Steps[0].ID) + "\n")

	for i, st := range sc.Steps {
		b.WriteString("    " + nodeDefinition(st) + "\n")
		if i < len(sc.Steps)-1 {
			b.WriteString(fmt.Sprintf("    %s --> %s\n", safeID(st.ID), safeID(sc.Steps[i+1].ID)))
		}
	}
	b.WriteString(fmt.Sprintf("    %s --> DONE([Actions])\n", safeID(sc.Steps[len(sc.Steps)-1].ID)))

	// Data edges are dashed so they read apart from the run order.
	for i, st := range sc.Steps {
		for _, bd := range bindings(sc, i) {
			switch {
			case bd.from == schema.SourceScenarioInput && hasInputs:
				b.WriteString(fmt.Sprintf("    INPUTS -.->|%q| %s\n", bd.target, safeID(st.ID)))
			case bd.origin != "":
				b.WriteString(fmt.Sprintf("    %s -.->|%q| %s\n", safeID(bd.origin), bd.target, safeID(st.ID)))
			}
		}
	}
	if hasInputs {
		b.WriteString("    style INPUTS fill:#1a3a4a,stroke:#0af\n")
	}
	return b.String()
}

func inputsLabel(sc *schema.Scenario) string {
	parts := make([]string, 0, len(sc.Inputs)+len(sc.Derived))
	for _, in := range sc.Inputs {
		name := in.Name
		if in.Required {
			name += "*"
		}
		parts = append(parts, name)
	}
	for _, d := range sc.Derived {
		parts = append(parts, "="+d.Name)
	}
	return "inputs: " + strings.Join(parts, ", ")
}

// --- ASCII ---

func generateASCII(sc *schema.Scenario) string {
	var b strings.Builder

	name := sc.Meta.Name
	if name == "" {
		name = "Scenario"
	}
	if len(sc.Steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	boxes := make([][]string, len(sc.Steps))
	for i, st := range sc.Steps {
		lines := []string{fmt.Sprintf(" %d. %s ", i+1, st.ID), "    " + st.Action + " "}
		for _, bd := range bindings(sc, i) {
			lines = append(lines, "  ← "+bd.target+" = "+bd.label+" ")
		}
		boxes[i] = lines
	}

	// Uniform box width so every box and connector aligns.
	const indent = 4
	boxWidth := computeUniformBoxWidth(boxes, name)
	connCol := indent + 1 + boxWidth/2 // +1 accounts for the border character
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)

	mid := boxWidth / 2
	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + centerPad(name, boxWidth) + "║\n")
	if len(sc.Inputs) > 0 || len(sc.Derived) > 0 {
		label := " " + truncate(inputsLabel(sc), boxWidth-2) + " "
		b.WriteString(pad + "║" + label + strings.Repeat(" ", boxWidth-runewidth.StringWidth(label)) + "║\n")
	}
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")
	b.WriteString(connPad + "│\n")

	for i, lines := range boxes {
		b.WriteString(pad + "┌" + strings.Repeat("─", boxWidth) + "┐\n")
		for _, l := range lines {
			b.WriteString(pad + "│" + l + strings.Repeat(" ", boxWidth-runewidth.StringWidth(l)) + "│\n")
		}
		if i < len(boxes)-1 {
			b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
			b.WriteString(connPad + "│\n")
		} else {
			b.WriteString(pad + "└" + strings.Repeat("─", boxWidth) + "┘\n")
		}
	}
	return b.String()
}

// computeUniformBoxWidth returns the widest interior width needed across
// all boxes and the header name.
func computeUniformBoxWidth(boxes [][]string, name string) int {
	w := 22
	if nw := runewidth.StringWidth(name) + 4; nw > w {
		w = nw
	}
	for _, lines := range boxes {
		for _, l := range lines {
			if lw := runewidth.StringWidth(l); lw > w {
				w = lw
			}
		}
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

// --- string helpers ---

func nodeDefinition(st schema.Step) string {
	return fmt.Sprintf(`%s["%s<br/>%s"]`, safeID(st.ID), escMermaid(st.ID), escMermaid(st.Action))
}

func safeID(id string) string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_")
	return "s_" + r.Replace(id)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}

func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "...")
}
