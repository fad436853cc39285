package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Ref points at an output of an earlier step. Path walks into the output:
// segments are map keys, numeric segments index lists.
type Ref struct {
	Step StepID
	Path []string
}

func (r Ref) String() string {
	if len(r.Path) == 0 {
		return "{{steps." + string(r.Step) + "}}"
	}
	return "{{steps." + string(r.Step) + "." + strings.Join(r.Path, ".") + "}}"
}

// Value is a step parameter: either a literal or a reference to another
// step's output. The zero Value is a nil literal.
type Value struct {
	literal any
	ref     *Ref
}

// Literal wraps a concrete parameter value.
func Literal(v any) Value { return Value{literal: v} }

// StepOutput references the output of step, optionally narrowed by a field path.
func StepOutput(step StepID, path ...string) Value {
	p := make([]string, len(path))
	copy(p, path)
	return Value{ref: &Ref{Step: step, Path: p}}
}

// Ref reports whether the value is a step reference.
func (v Value) Ref() (Ref, bool) {
	if v.ref == nil {
		return Ref{}, false
	}
	return *v.ref, true
}

func (v Value) IsRef() bool { return v.ref != nil }

// Refs returns every reference the value carries, including placeholders
// nested in literal lists and maps. Map entries are visited in key order.
func (v Value) Refs() []Ref {
	if v.ref != nil {
		return []Ref{*v.ref}
	}
	return nestedRefs(v.literal, nil)
}

func nestedRefs(lit any, acc []Ref) []Ref {
	switch x := lit.(type) {
	case string:
		if r, ok := ParseRef(x); ok {
			acc = append(acc, r)
		}
	case []any:
		for _, e := range x {
			acc = nestedRefs(e, acc)
		}
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			acc = nestedRefs(x[k], acc)
		}
	}
	return acc
}

// Literal returns the literal payload; nil for references.
func (v Value) Literal() any { return v.literal }

func (v Value) String() string {
	if v.ref != nil {
		return v.ref.String()
	}
	return fmt.Sprint(v.literal)
}

var refPattern = regexp.MustCompile(`^\{\{\s*steps?\.([^.\s{}]+)((?:\.[^.\s{}]+)*)\s*\}\}$`)

// ParseRef recognises the whole-string placeholder form
// "{{steps.<id>}}" or "{{steps.<id>.<field.path>}}".
func ParseRef(s string) (Ref, bool) {
	m := refPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Ref{}, false
	}
	r := Ref{Step: StepID(m[1])}
	if m[2] != "" {
		r.Path = strings.Split(strings.TrimPrefix(m[2], "."), ".")
	}
	return r, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, ".")
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

type refJSON struct {
	Ref  StepID `json:"$ref"`
	Path string `json:"path,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.ref != nil {
		return json.Marshal(refJSON{Ref: v.ref.Step, Path: strings.Join(v.ref.Path, ".")})
	}
	return json.Marshal(v.literal)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '{' && bytes.Contains(trimmed, []byte(`"$ref"`)) {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return err
		}
		if _, ok := probe["$ref"]; ok {
			var r refJSON
			if err := json.Unmarshal(trimmed, &r); err != nil {
				return fmt.Errorf("decode step reference: %w", err)
			}
			if r.Ref == "" {
				return fmt.Errorf("step reference has an empty $ref")
			}
			*v = StepOutput(r.Ref, splitPath(r.Path)...)
			return nil
		}
	}

	var lit any
	if err := json.Unmarshal(trimmed, &lit); err != nil {
		return err
	}
	if s, ok := lit.(string); ok {
		if r, ok := ParseRef(s); ok {
			*v = Value{ref: &r}
			return nil
		}
	}
	*v = Literal(lit)
	return nil
}
