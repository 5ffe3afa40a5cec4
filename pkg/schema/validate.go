package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

type state struct {
	issues []Issue
}

func (st *state) add(inst, schemaPath, keyword string, params map[string]interface{}, msg string) {
	st.issues = append(st.issues, Issue{
		InstancePath: inst,
		SchemaPath:   schemaPath,
		Keyword:      keyword,
		Params:       params,
		Message:      msg,
	})
}

// validate checks v against n and returns the coerced value. Maps and slices
// in v are modified in place; callers pass a private copy.
func (n *node) validate(v interface{}, inst string, st *state) interface{} {
	if n.boolSchema != nil {
		if !*n.boolSchema {
			st.add(inst, n.path, "false schema", nil, "boolean schema is false")
		}
		return v
	}
	if n.ref != nil {
		v = n.ref.validate(v, inst, st)
	}

	if len(n.types) > 0 {
		coerced, ok := coerceToTypes(v, n.types)
		if !ok {
			joined := strings.Join(n.types, ",")
			st.add(inst, n.path+"/type", "type", map[string]interface{}{"type": joined}, "must be "+joined)
			return v
		}
		v = coerced
	}

	if n.hasEnum {
		found := false
		for _, allowed := range n.enum {
			if jsonEqual(v, allowed) {
				found = true
				break
			}
		}
		if !found {
			st.add(inst, n.path+"/enum", "enum", map[string]interface{}{"allowedValues": n.enum},
				"must be equal to one of the allowed values")
		}
	}
	if n.hasConst && !jsonEqual(v, n.constVal) {
		st.add(inst, n.path+"/const", "const", map[string]interface{}{"allowedValue": n.constVal},
			"must be equal to constant")
	}

	switch t := v.(type) {
	case map[string]interface{}:
		n.validateObject(t, inst, st)
	case []interface{}:
		n.validateArray(t, inst, st)
	case string:
		n.validateString(t, inst, st)
	case nil, bool:
	default:
		if f, ok := toFloat(t); ok {
			n.validateNumber(f, inst, st)
		}
	}

	return n.validateCombinators(v, inst, st)
}

func (n *node) validateObject(obj map[string]interface{}, inst string, st *state) {
	for _, name := range n.propOrder {
		p := n.properties[name]
		if _, ok := obj[name]; !ok && p.hasDefault {
			obj[name] = deepCopy(p.def)
		}
	}
	for _, name := range n.required {
		if _, ok := obj[name]; !ok {
			st.add(inst, n.path+"/required", "required", map[string]interface{}{"missingProperty": name},
				fmt.Sprintf("must have required property '%s'", name))
		}
	}

	for _, key := range sortedKeys(obj) {
		childPath := inst + "/" + escapePointer(key)
		declared := false
		if p, ok := n.properties[key]; ok {
			declared = true
			obj[key] = p.validate(obj[key], childPath, st)
		}
		for _, pp := range n.patternProps {
			if pp.re.MatchString(key) {
				declared = true
				obj[key] = pp.node.validate(obj[key], childPath, st)
			}
		}
		if declared {
			continue
		}
		switch n.addMode {
		case additionalStrip:
			delete(obj, key)
		case additionalSchema:
			obj[key] = n.additional.validate(obj[key], childPath, st)
		}
	}

	if n.minProps >= 0 && len(obj) < n.minProps {
		st.add(inst, n.path+"/minProperties", "minProperties", map[string]interface{}{"limit": n.minProps},
			fmt.Sprintf("must NOT have fewer than %d properties", n.minProps))
	}
	if n.maxProps >= 0 && len(obj) > n.maxProps {
		st.add(inst, n.path+"/maxProperties", "maxProperties", map[string]interface{}{"limit": n.maxProps},
			fmt.Sprintf("must NOT have more than %d properties", n.maxProps))
	}
}

func (n *node) validateArray(arr []interface{}, inst string, st *state) {
	if n.items != nil {
		for i := range arr {
			arr[i] = n.items.validate(arr[i], inst+"/"+strconv.Itoa(i), st)
		}
	}
	for i, tn := range n.tuple {
		if i >= len(arr) {
			break
		}
		arr[i] = tn.validate(arr[i], inst+"/"+strconv.Itoa(i), st)
	}
	if n.minItems >= 0 && len(arr) < n.minItems {
		st.add(inst, n.path+"/minItems", "minItems", map[string]interface{}{"limit": n.minItems},
			fmt.Sprintf("must NOT have fewer than %d items", n.minItems))
	}
	if n.maxItems >= 0 && len(arr) > n.maxItems {
		st.add(inst, n.path+"/maxItems", "maxItems", map[string]interface{}{"limit": n.maxItems},
			fmt.Sprintf("must NOT have more than %d items", n.maxItems))
	}
	if n.uniqueItems {
		for j := 1; j < len(arr); j++ {
			for i := 0; i < j; i++ {
				if jsonEqual(arr[i], arr[j]) {
					st.add(inst, n.path+"/uniqueItems", "uniqueItems", map[string]interface{}{"i": j, "j": i},
						fmt.Sprintf("must NOT have duplicate items (items ## %d and %d are identical)", i, j))
					return
				}
			}
		}
	}
}

func (n *node) validateString(s, inst string, st *state) {
	length := utf8.RuneCountInString(s)
	if n.minLength >= 0 && length < n.minLength {
		st.add(inst, n.path+"/minLength", "minLength", map[string]interface{}{"limit": n.minLength},
			fmt.Sprintf("must NOT have fewer than %d characters", n.minLength))
	}
	if n.maxLength >= 0 && length > n.maxLength {
		st.add(inst, n.path+"/maxLength", "maxLength", map[string]interface{}{"limit": n.maxLength},
			fmt.Sprintf("must NOT have more than %d characters", n.maxLength))
	}
	if n.pattern != nil && !n.pattern.MatchString(s) {
		st.add(inst, n.path+"/pattern", "pattern", map[string]interface{}{"pattern": n.pattern.String()},
			fmt.Sprintf("must match pattern \"%s\"", n.pattern.String()))
	}
	if n.format != "" {
		if check, ok := formats[n.format]; ok && !check(s) {
			st.add(inst, n.path+"/format", "format", map[string]interface{}{"format": n.format},
				fmt.Sprintf("must match format \"%s\"", n.format))
		}
	}
}

func (n *node) validateNumber(f float64, inst string, st *state) {
	limit := func(kw, cmp string, bound float64) {
		st.add(inst, n.path+"/"+kw, kw, map[string]interface{}{"comparison": cmp, "limit": bound},
			fmt.Sprintf("must be %s %s", cmp, strconv.FormatFloat(bound, 'f', -1, 64)))
	}
	if n.minimum != nil && f < *n.minimum {
		limit("minimum", ">=", *n.minimum)
	}
	if n.maximum != nil && f > *n.maximum {
		limit("maximum", "<=", *n.maximum)
	}
	if n.exclMin != nil && f <= *n.exclMin {
		limit("exclusiveMinimum", ">", *n.exclMin)
	}
	if n.exclMax != nil && f >= *n.exclMax {
		limit("exclusiveMaximum", "<", *n.exclMax)
	}
	if n.multipleOf != nil {
		q := f / *n.multipleOf
		if math.Abs(q-math.Round(q)) > 1e-9 {
			st.add(inst, n.path+"/multipleOf", "multipleOf", map[string]interface{}{"multipleOf": *n.multipleOf},
				fmt.Sprintf("must be multiple of %s", strconv.FormatFloat(*n.multipleOf, 'f', -1, 64)))
		}
	}
}

func (n *node) validateCombinators(v interface{}, inst string, st *state) interface{} {
	for _, sub := range n.allOf {
		v = sub.validate(v, inst, st)
	}

	if len(n.anyOf) > 0 {
		var branchIssues []Issue
		matched := false
		for _, sub := range n.anyOf {
			scratch := &state{}
			out := sub.validate(deepCopy(v), inst, scratch)
			if len(scratch.issues) == 0 {
				v, matched = out, true
				break
			}
			branchIssues = append(branchIssues, scratch.issues...)
		}
		if !matched {
			st.issues = append(st.issues, branchIssues...)
			st.add(inst, n.path+"/anyOf", "anyOf", nil, "must match a schema in anyOf")
		}
	}

	if len(n.oneOf) > 0 {
		var branchIssues []Issue
		var passing []int
		var chosen interface{}
		for i, sub := range n.oneOf {
			scratch := &state{}
			out := sub.validate(deepCopy(v), inst, scratch)
			if len(scratch.issues) == 0 {
				if passing == nil {
					chosen = out
				}
				passing = append(passing, i)
				continue
			}
			branchIssues = append(branchIssues, scratch.issues...)
		}
		switch len(passing) {
		case 1:
			v = chosen
		case 0:
			st.issues = append(st.issues, branchIssues...)
			st.add(inst, n.path+"/oneOf", "oneOf", map[string]interface{}{"passingSchemas": nil},
				"must match exactly one schema in oneOf")
		default:
			st.add(inst, n.path+"/oneOf", "oneOf", map[string]interface{}{"passingSchemas": passing},
				"must match exactly one schema in oneOf")
		}
	}

	if n.not != nil {
		scratch := &state{}
		n.not.validate(deepCopy(v), inst, scratch)
		if len(scratch.issues) == 0 {
			st.add(inst, n.path+"/not", "not", nil, "must NOT be valid")
		}
	}
	return v
}
