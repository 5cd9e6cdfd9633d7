package value

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrorKind classifies a path navigation failure.
type ErrorKind string

const (
	FieldNotFound   ErrorKind = "FieldNotFound"
	NotAnArray      ErrorKind = "NotAnArray"
	IndexOutOfRange ErrorKind = "IndexOutOfRange"
	NotTraversable  ErrorKind = "NotTraversable"
	InvalidPath     ErrorKind = "InvalidPath"
)

// PathError describes where and why navigating a path failed.
type PathError struct {
	Kind      ErrorKind
	Path      string
	Segment   string
	Available []string // FieldNotFound: keys present at that level
	Actual    Kind     // NotAnArray, NotTraversable: what was found instead
	Index     int      // IndexOutOfRange
	Length    int      // IndexOutOfRange
}

func (e *PathError) Error() string {
	switch e.Kind {
	case FieldNotFound:
		if e.Actual != KindObject {
			return fmt.Sprintf("field %q not found in path %q (reached %s), available fields: [%s]",
				e.Segment, e.Path, e.Actual, strings.Join(e.Available, ", "))
		}
		return fmt.Sprintf("field %q not found in path %q, available fields: [%s]",
			e.Segment, e.Path, strings.Join(e.Available, ", "))
	case NotAnArray:
		return fmt.Sprintf("field %q is not an array in path %q, got %s", e.Segment, e.Path, e.Actual)
	case IndexOutOfRange:
		return fmt.Sprintf("array index %d out of bounds (size: %d) in path %q", e.Index, e.Length, e.Path)
	case NotTraversable:
		return fmt.Sprintf("cannot extract field %q from %s in path %q", e.Segment, e.Actual, e.Path)
	default:
		return fmt.Sprintf("invalid path %q at %q", e.Path, e.Segment)
	}
}

// Segment is one parsed path element: a field name followed by zero or more
// array indices, e.g. results[0].
type Segment struct {
	Field   string
	Indices []int
}

func (s Segment) String() string {
	var b strings.Builder
	b.WriteString(s.Field)
	for _, i := range s.Indices {
		fmt.Fprintf(&b, "[%d]", i)
	}
	return b.String()
}

// ParsePath splits a dotted path such as "results[0].user_id" into segments.
func ParsePath(path string) ([]Segment, error) {
	if path == "" {
		return nil, &PathError{Kind: InvalidPath, Path: path}
	}
	parts := strings.Split(path, ".")
	segs := make([]Segment, 0, len(parts))
	for _, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, &PathError{Kind: InvalidPath, Path: path, Segment: part}
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func parseSegment(part string) (Segment, error) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		if part == "" || strings.ContainsRune(part, ']') {
			return Segment{}, fmt.Errorf("bad segment")
		}
		return Segment{Field: part}, nil
	}
	seg := Segment{Field: part[:open]}
	rest := part[open:]
	for rest != "" {
		if rest[0] != '[' {
			return Segment{}, fmt.Errorf("bad segment")
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return Segment{}, fmt.Errorf("unterminated index")
		}
		idx, err := strconv.Atoi(rest[1:end])
		if err != nil || idx < 0 {
			return Segment{}, fmt.Errorf("bad index")
		}
		seg.Indices = append(seg.Indices, idx)
		rest = rest[end+1:]
	}
	return seg, nil
}

// Get navigates path strictly: every failure, including an out-of-range
// index, is a *PathError.
func (v Value) Get(path string) (Value, error) {
	got, found, err := v.walk(path, true)
	if err != nil {
		return Null(), err
	}
	if !found {
		return Null(), &PathError{Kind: InvalidPath, Path: path}
	}
	return got, nil
}

// Lookup navigates path for callers that probe speculatively. An
// out-of-range index, or a null reached before the end of the path, yields
// found=false instead of an error.
func (v Value) Lookup(path string) (Value, bool, error) {
	return v.walk(path, false)
}

func (v Value) walk(path string, strict bool) (Value, bool, error) {
	segs, err := ParsePath(path)
	if err != nil {
		return Null(), false, err
	}
	cur := v
	var parentKeys []string
	for i, seg := range segs {
		if !strict && cur.IsNull() && i > 0 {
			return Null(), false, nil
		}
		if seg.Field != "" {
			switch cur.kind {
			case KindObject:
			case KindArray:
				return Null(), false, &PathError{Kind: NotTraversable, Path: path, Segment: seg.Field, Actual: cur.kind}
			default:
				// A scalar has no fields; report the keys of the object it came from.
				return Null(), false, &PathError{Kind: FieldNotFound, Path: path, Segment: seg.Field, Actual: cur.kind, Available: parentKeys}
			}
			next, ok := cur.obj[seg.Field]
			if !ok {
				return Null(), false, &PathError{Kind: FieldNotFound, Path: path, Segment: seg.Field, Actual: KindObject, Available: cur.Keys()}
			}
			parentKeys = cur.Keys()
			cur = next
		}
		for _, idx := range seg.Indices {
			if cur.kind != KindArray {
				if !strict && cur.IsNull() {
					return Null(), false, nil
				}
				return Null(), false, &PathError{Kind: NotAnArray, Path: path, Segment: seg.Field, Actual: cur.kind}
			}
			if idx >= len(cur.arr) {
				if !strict {
					return Null(), false, nil
				}
				return Null(), false, &PathError{Kind: IndexOutOfRange, Path: path, Segment: seg.String(), Index: idx, Length: len(cur.arr)}
			}
			cur = cur.arr[idx]
		}
	}
	return cur, true, nil
}
