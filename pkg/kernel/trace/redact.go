package trace

import (
	"fmt"
	"regexp"
)

// Redacted replaces every match of a redaction pattern.
const Redacted = "[REDACTED]"

// Redaction is a pre-compiled redaction rule.
type Redaction struct {
	Pattern *regexp.Regexp
	Replace string
}

// CompileRedactions compiles patterns into rules that replace matches with
// Redacted.
func CompileRedactions(patterns []string) ([]*Redaction, error) {
	var compiled []*Redaction
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("redaction pattern %q: %w", p, err)
		}
		compiled = append(compiled, &Redaction{Pattern: re, Replace: Redacted})
	}
	return compiled, nil
}

// SetRedactions makes the writer scrub string values in event data before
// they are written. Hashes cover the redacted lines.
func (tw *Writer) SetRedactions(rules []*Redaction) {
	if tw == nil {
		return
	}
	tw.mu.Lock()
	tw.redactions = rules
	tw.mu.Unlock()
}

// redact scrubs data when rules are set. Chain fields are stamped after.
func (tw *Writer) redact(data map[string]any) map[string]any {
	if len(tw.redactions) == 0 || data == nil {
		return data
	}
	return redactValue(data, tw.redactions).(map[string]any)
}

func redactString(s string, rules []*Redaction) string {
	for _, r := range rules {
		s = r.Pattern.ReplaceAllString(s, r.Replace)
	}
	return s
}

// redactValue returns a copy of v with every string redacted. Maps and
// slices are copied so callers' data is left alone.
func redactValue(v any, rules []*Redaction) any {
	switch t := v.(type) {
	case string:
		return redactString(t, rules)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = redactValue(item, rules)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item, rules)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = redactString(item, rules)
		}
		return out
	default:
		return v
	}
}
