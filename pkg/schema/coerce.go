package schema

import (
	"math"
	"strconv"
	"strings"
)

// coerce converts a scalar toward type t. It reports false when the
// conversion is ambiguous, in which case v is returned unchanged.
func coerce(v interface{}, t string) (interface{}, bool) {
	switch t {
	case "string":
		switch x := v.(type) {
		case nil:
			return "", true
		case bool:
			return strconv.FormatBool(x), true
		}
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), true
		}
	case "number", "integer":
		var f float64
		switch x := v.(type) {
		case nil:
			f = 0
		case bool:
			if x {
				f = 1
			}
		case string:
			if x == "" {
				return v, false
			}
			// Surrounding whitespace is ignored and a blank string reads as 0.
			if s := strings.TrimSpace(x); s != "" {
				parsed, err := strconv.ParseFloat(s, 64)
				if err != nil || math.IsInf(parsed, 0) || math.IsNaN(parsed) {
					return v, false
				}
				f = parsed
			}
		default:
			return v, false
		}
		if t == "integer" && !isInteger(f) {
			return v, false
		}
		return f, true
	case "boolean":
		switch x := v.(type) {
		case nil:
			return false, true
		case string:
			switch x {
			case "true":
				return true, true
			case "false":
				return false, true
			}
			return v, false
		}
		if f, ok := toFloat(v); ok {
			switch f {
			case 1:
				return true, true
			case 0:
				return false, true
			}
		}
	case "null":
		switch x := v.(type) {
		case string:
			if x == "" {
				return nil, true
			}
		case bool:
			if !x {
				return nil, true
			}
		}
		if f, ok := toFloat(v); ok && f == 0 {
			return nil, true
		}
	}
	return v, false
}

// coerceToTypes returns v unchanged when it already matches one of types,
// otherwise the first unambiguous coercion in declaration order.
func coerceToTypes(v interface{}, types []string) (interface{}, bool) {
	for _, t := range types {
		if matchesType(v, t) {
			return v, true
		}
	}
	switch jsonType(v) {
	case "object", "array":
		return v, false
	}
	for _, t := range types {
		if out, ok := coerce(v, t); ok {
			return out, true
		}
	}
	return v, false
}
