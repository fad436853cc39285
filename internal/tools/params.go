package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Params are the resolved parameters of one invocation.
type Params map[string]any

// String returns the named param as a string, or def when absent.
func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		if strings.TrimSpace(s) == "" {
			return def
		}
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	}
	return fmt.Sprint(v)
}

// Required returns a non-empty string param or an invalid-params error.
func (p Params) Required(key string) (string, error) {
	s := strings.TrimSpace(p.String(key, ""))
	if s == "" {
		return "", InvalidParams("%q is required", key)
	}
	return s, nil
}

// Int returns the named param as an int, or def when absent or malformed.
func (p Params) Int(key string, def int) int {
	switch n := p[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
