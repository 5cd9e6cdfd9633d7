// Package prompt asks the user, line by line, for scenario inputs that were
// not given on the command line.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ormasoftchile/tasksmith/pkg/kernel/schema"
	"github.com/ormasoftchile/tasksmith/pkg/kernel/value"
)

// ErrAborted is returned when the user interrupts the prompt.
var ErrAborted = errors.New("input aborted")

// Prompter reads answers with readline.
type Prompter struct {
	in  io.ReadCloser
	out io.Writer
}

// New creates a prompter on the given streams; nil means the terminal.
func New(in io.ReadCloser, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out}
}

// Missing returns the required inputs of sc that params lacks or leaves
// blank, in declaration order.
func Missing(sc *schema.Scenario, params map[string]value.Value) []schema.InputDef {
	var out []schema.InputDef
	for _, in := range sc.RequiredInputs() {
		if v, ok := params[in.Name]; !ok || value.IsBlankTrimmed(v) {
			out = append(out, in)
		}
	}
	return out
}

// Fill prompts for every missing required input of sc and stores the
// answers in params. Empty answers are asked again.
func (p *Prompter) Fill(sc *schema.Scenario, params map[string]value.Value) error {
	missing := Missing(sc, params)
	if len(missing) == 0 {
		return nil
	}

	completer := readline.NewPrefixCompleter()
	for _, in := range missing {
		if in.Example != nil {
			completer.Children = append(completer.Children, readline.PcItem(fmt.Sprint(in.Example)))
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Stdin:           p.in,
		Stdout:          p.out,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "%s needs %d more input(s)\n", sc.Meta.Name, len(missing))
	for _, in := range missing {
		if in.Description != "" {
			fmt.Fprintf(rl.Stdout(), "  %s\n", in.Description)
		}
		rl.SetPrompt(label(in))
		for {
			line, err := rl.Readline()
			if err != nil {
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					return ErrAborted
				}
				return err
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			params[in.Name] = Parse(line, in.Type)
			break
		}
	}
	return nil
}

// Parse turns an answer into a value of the declared type. Structured and
// scalar JSON types are decoded when they parse; anything else stays text.
func Parse(answer, typ string) value.Value {
	switch typ {
	case "object", "array", "number", "integer", "boolean":
		if v, err := value.ParseString(answer); err == nil {
			return v
		}
	}
	return value.String(answer)
}

func label(in schema.InputDef) string {
	typ := in.Type
	if typ == "" {
		typ = "string"
	}
	if in.Example != nil {
		return fmt.Sprintf("%s (%s, e.g. %v)> ", in.Name, typ, in.Example)
	}
	return fmt.Sprintf("%s (%s)> ", in.Name, typ)
}
