package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrUnresolvable is returned when a reference cannot be satisfied from the
// outputs collected so far.
var ErrUnresolvable = errors.New("unresolvable reference")

// ResolveParams replaces every reference in the step's params with the
// referenced output, including placeholders nested in literal lists and
// maps. outputs holds the outputs of succeeded steps.
func (s Step) ResolveParams(outputs map[StepID]any) (map[string]any, error) {
	params := make(map[string]any, len(s.Params))
	for name, v := range s.Params {
		var (
			val any
			err error
		)
		if ref, ok := v.Ref(); ok {
			val, err = resolveRef(ref, outputs)
		} else {
			val, err = resolveNested(v.Literal(), outputs)
		}
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", name, err)
		}
		params[name] = val
	}
	return params, nil
}

func resolveRef(ref Ref, outputs map[StepID]any) (any, error) {
	out, ok := outputs[ref.Step]
	if !ok {
		return nil, fmt.Errorf("%w: no output from step %q", ErrUnresolvable, ref.Step)
	}
	return Extract(out, ref.Path)
}

// resolveNested copies lit, substituting placeholders found inside it.
// Literals without placeholders are returned unchanged.
func resolveNested(lit any, outputs map[StepID]any) (any, error) {
	switch x := lit.(type) {
	case string:
		if r, ok := ParseRef(x); ok {
			return resolveRef(r, outputs)
		}
		return x, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			v, err := resolveNested(e, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			v, err := resolveNested(e, outputs)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	}
	return lit, nil
}

// Extract walks path through a decoded output. Maps are indexed by key and
// lists by position; other values are normalised through JSON first so
// typed tool outputs can be walked the same way.
func Extract(output any, path []string) (any, error) {
	cur := output
	for i, seg := range path {
		next, ok := step(cur, seg)
		if !ok {
			generic, err := toGeneric(cur)
			if err == nil {
				next, ok = step(generic, seg)
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: field %q not found at %q", ErrUnresolvable, seg, joinPath(path[:i]))
		}
		cur = next
	}
	return cur, nil
}

func step(cur any, seg string) (any, bool) {
	switch v := cur.(type) {
	case map[string]any:
		next, ok := v[seg]
		return next, ok
	case map[string]string:
		next, ok := v[seg]
		return next, ok
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	case []map[string]any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(v) {
			return nil, false
		}
		return v[idx], true
	}
	return nil, false
}

func toGeneric(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return nil, errors.New("already generic")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func joinPath(p []string) string {
	if len(p) == 0 {
		return "<root>"
	}
	s := p[0]
	for _, seg := range p[1:] {
		s += "." + seg
	}
	return s
}
