package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const compileLogPrefix = "schema:compile"

var (
	// ErrMalformed is returned when a descriptor cannot be compiled.
	ErrMalformed = errors.New("malformed schema descriptor")
	// ErrUnresolvedRef is returned when a $ref names an unknown shared schema or pointer.
	ErrUnresolvedRef = errors.New("unresolved schema reference")
)

type additionalMode int

const (
	additionalAllow additionalMode = iota
	additionalStrip
	additionalSchema
)

// node is one compiled (sub)schema.
type node struct {
	path       string
	boolSchema *bool

	types    []string
	enum     []interface{}
	hasEnum  bool
	constVal interface{}
	hasConst bool

	def        interface{}
	hasDefault bool

	// object
	properties   map[string]*node
	propOrder    []string
	required     []string
	patternProps []patternProp
	additional   *node
	addMode      additionalMode
	minProps     int
	maxProps     int

	// array
	items       *node
	tuple       []*node
	minItems    int
	maxItems    int
	uniqueItems bool

	// number
	minimum    *float64
	maximum    *float64
	exclMin    *float64
	exclMax    *float64
	multipleOf *float64

	// string
	minLength int
	maxLength int
	pattern   *regexp.Regexp
	format    string

	ref   *node
	allOf []*node
	anyOf []*node
	oneOf []*node
	not   *node
}

type patternProp struct {
	re   *regexp.Regexp
	node *node
}

// rootDoc is the document local "#/..." references resolve against.
type rootDoc struct {
	id  string
	doc interface{}
}

type compiler struct {
	shared map[string]Descriptor
	refs   map[string]*node
}

func newCompiler(shared map[string]Descriptor) *compiler {
	return &compiler{shared: shared, refs: make(map[string]*node)}
}

func (c *compiler) compileRoot(d Descriptor) (*node, error) {
	var doc interface{} = map[string]interface{}(d)
	if d == nil {
		doc = map[string]interface{}{}
	}
	root := rootDoc{doc: doc}
	n := &node{}
	c.refs["#"] = n
	if err := c.fill(n, doc, "#", root); err != nil {
		return nil, err
	}
	if err := checkCycles(n); err != nil {
		return nil, err
	}
	return n, nil
}

// sameInstance lists the edges that apply n's children to the value n itself
// validates. A cycle over these edges never terminates.
func (n *node) sameInstance() []*node {
	out := make([]*node, 0, 1+len(n.allOf)+len(n.anyOf)+len(n.oneOf)+1)
	if n.ref != nil {
		out = append(out, n.ref)
	}
	out = append(out, n.allOf...)
	out = append(out, n.anyOf...)
	out = append(out, n.oneOf...)
	if n.not != nil {
		out = append(out, n.not)
	}
	return out
}

// descending lists the edges that apply children to a nested value.
func (n *node) descending() []*node {
	out := make([]*node, 0, len(n.properties)+len(n.patternProps)+len(n.tuple)+2)
	for _, name := range n.propOrder {
		out = append(out, n.properties[name])
	}
	for _, pp := range n.patternProps {
		out = append(out, pp.node)
	}
	if n.additional != nil {
		out = append(out, n.additional)
	}
	if n.items != nil {
		out = append(out, n.items)
	}
	return append(out, n.tuple...)
}

// checkCycles rejects graphs where a $ref chain returns to a node without
// first descending into a property or item.
func checkCycles(root *node) error {
	const (
		white = iota
		gray
		black
	)
	color := make(map[*node]int)

	var visit func(n *node) error
	visit = func(n *node) error {
		color[n] = gray
		for _, next := range n.sameInstance() {
			switch color[next] {
			case gray:
				return fmt.Errorf("%s - $ref cycle at %s does not descend into the instance: %w", compileLogPrefix, next.path, ErrMalformed)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		color[n] = black
		return nil
	}

	seen := map[*node]bool{root: true}
	queue := []*node{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if color[n] == white {
			if err := visit(n); err != nil {
				return err
			}
		}
		for _, next := range append(n.sameInstance(), n.descending()...) {
			if next != nil && !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return nil
}

func (c *compiler) compile(raw interface{}, path string, root rootDoc) (*node, error) {
	n := &node{}
	if err := c.fill(n, raw, path, root); err != nil {
		return nil, err
	}
	return n, nil
}

func (c *compiler) fill(n *node, raw interface{}, path string, root rootDoc) error {
	n.path = path
	n.minProps, n.maxProps = -1, -1
	n.minItems, n.maxItems = -1, -1
	n.minLength, n.maxLength = -1, -1

	if b, ok := raw.(bool); ok {
		n.boolSchema = &b
		return nil
	}
	m, ok := asMap(raw)
	if !ok {
		return fmt.Errorf("%s - schema at %s must be an object or boolean: %w", compileLogPrefix, path, ErrMalformed)
	}

	if ref, ok := m["$ref"]; ok {
		s, ok := ref.(string)
		if !ok {
			return fmt.Errorf("%s - $ref at %s must be a string: %w", compileLogPrefix, path, ErrMalformed)
		}
		target, err := c.resolveRef(s, root)
		if err != nil {
			return err
		}
		n.ref = target
	}

	if err := c.fillType(n, m, path); err != nil {
		return err
	}
	if e, ok := m["enum"]; ok {
		list, ok := e.([]interface{})
		if !ok {
			return fmt.Errorf("%s - enum at %s must be an array: %w", compileLogPrefix, path, ErrMalformed)
		}
		n.enum, n.hasEnum = list, true
	}
	if cv, ok := m["const"]; ok {
		n.constVal, n.hasConst = cv, true
	}
	if dv, ok := m["default"]; ok {
		n.def, n.hasDefault = dv, true
	}

	if err := c.fillObject(n, m, path, root); err != nil {
		return err
	}
	if err := c.fillArray(n, m, path, root); err != nil {
		return err
	}
	if err := fillNumber(n, m, path); err != nil {
		return err
	}
	if err := fillString(n, m, path); err != nil {
		return err
	}

	var err error
	if n.allOf, err = c.compileList(m, "allOf", path, root); err != nil {
		return err
	}
	if n.anyOf, err = c.compileList(m, "anyOf", path, root); err != nil {
		return err
	}
	if n.oneOf, err = c.compileList(m, "oneOf", path, root); err != nil {
		return err
	}
	if sub, ok := m["not"]; ok {
		if n.not, err = c.compile(sub, path+"/not", root); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) fillType(n *node, m map[string]interface{}, path string) error {
	switch t := m["type"].(type) {
	case nil:
	case string:
		n.types = []string{t}
	case []interface{}:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("%s - type at %s must list strings: %w", compileLogPrefix, path, ErrMalformed)
			}
			n.types = append(n.types, s)
		}
	case []string:
		n.types = append(n.types, t...)
	default:
		return fmt.Errorf("%s - type at %s must be a string or array: %w", compileLogPrefix, path, ErrMalformed)
	}
	for _, t := range n.types {
		if !knownType(t) {
			return fmt.Errorf("%s - unknown type %q at %s: %w", compileLogPrefix, t, path, ErrMalformed)
		}
	}
	if nb, _ := m["nullable"].(bool); nb && len(n.types) > 0 && !containsString(n.types, "null") {
		n.types = append(n.types, "null")
	}
	return nil
}

func (c *compiler) fillObject(n *node, m map[string]interface{}, path string, root rootDoc) error {
	if raw, ok := m["properties"]; ok {
		props, ok := asMap(raw)
		if !ok {
			return fmt.Errorf("%s - properties at %s must be an object: %w", compileLogPrefix, path, ErrMalformed)
		}
		n.properties = make(map[string]*node, len(props))
		for name, sub := range props {
			pn, err := c.compile(sub, path+"/properties/"+escapePointer(name), root)
			if err != nil {
				return err
			}
			n.properties[name] = pn
			n.propOrder = append(n.propOrder, name)
		}
		sort.Strings(n.propOrder)
	}
	if raw, ok := m["patternProperties"]; ok {
		pats, ok := asMap(raw)
		if !ok {
			return fmt.Errorf("%s - patternProperties at %s must be an object: %w", compileLogPrefix, path, ErrMalformed)
		}
		keys := sortedKeys(pats)
		for _, expr := range keys {
			re, err := regexp.Compile(expr)
			if err != nil {
				return fmt.Errorf("%s - bad pattern %q at %s: %v: %w", compileLogPrefix, expr, path, err, ErrMalformed)
			}
			pn, err := c.compile(pats[expr], path+"/patternProperties/"+escapePointer(expr), root)
			if err != nil {
				return err
			}
			n.patternProps = append(n.patternProps, patternProp{re: re, node: pn})
		}
	}
	if raw, ok := m["required"]; ok {
		list, ok := toStrings(raw)
		if !ok {
			return fmt.Errorf("%s - required at %s must be an array of strings: %w", compileLogPrefix, path, ErrMalformed)
		}
		n.required = list
	}

	// Undeclared properties are stripped unless the schema opts into them explicitly.
	switch ap := m["additionalProperties"].(type) {
	case nil:
		if n.properties != nil || n.patternProps != nil {
			n.addMode = additionalStrip
		}
	case bool:
		if ap {
			n.addMode = additionalAllow
		} else {
			n.addMode = additionalStrip
		}
	default:
		sub, err := c.compile(ap, path+"/additionalProperties", root)
		if err != nil {
			return err
		}
		n.additional, n.addMode = sub, additionalSchema
	}

	var err error
	if n.minProps, err = intKeyword(m, "minProperties", path); err != nil {
		return err
	}
	if n.maxProps, err = intKeyword(m, "maxProperties", path); err != nil {
		return err
	}
	return nil
}

func (c *compiler) fillArray(n *node, m map[string]interface{}, path string, root rootDoc) error {
	switch items := m["items"].(type) {
	case nil:
	case []interface{}:
		for i, sub := range items {
			tn, err := c.compile(sub, fmt.Sprintf("%s/items/%d", path, i), root)
			if err != nil {
				return err
			}
			n.tuple = append(n.tuple, tn)
		}
	default:
		in, err := c.compile(items, path+"/items", root)
		if err != nil {
			return err
		}
		n.items = in
	}
	var err error
	if n.minItems, err = intKeyword(m, "minItems", path); err != nil {
		return err
	}
	if n.maxItems, err = intKeyword(m, "maxItems", path); err != nil {
		return err
	}
	n.uniqueItems, _ = m["uniqueItems"].(bool)
	return nil
}

func fillNumber(n *node, m map[string]interface{}, path string) error {
	for _, kw := range []struct {
		name string
		dst  **float64
	}{
		{"minimum", &n.minimum},
		{"maximum", &n.maximum},
		{"multipleOf", &n.multipleOf},
	} {
		if raw, ok := m[kw.name]; ok {
			f, ok := toFloat(raw)
			if !ok {
				return fmt.Errorf("%s - %s at %s must be a number: %w", compileLogPrefix, kw.name, path, ErrMalformed)
			}
			*kw.dst = &f
		}
	}
	if n.multipleOf != nil && *n.multipleOf <= 0 {
		return fmt.Errorf("%s - multipleOf at %s must be positive: %w", compileLogPrefix, path, ErrMalformed)
	}

	// Draft-04 boolean form turns minimum/maximum exclusive.
	if raw, ok := m["exclusiveMinimum"]; ok {
		if b, isBool := raw.(bool); isBool {
			if b && n.minimum != nil {
				n.exclMin, n.minimum = n.minimum, nil
			}
		} else if f, ok := toFloat(raw); ok {
			n.exclMin = &f
		} else {
			return fmt.Errorf("%s - exclusiveMinimum at %s must be a number: %w", compileLogPrefix, path, ErrMalformed)
		}
	}
	if raw, ok := m["exclusiveMaximum"]; ok {
		if b, isBool := raw.(bool); isBool {
			if b && n.maximum != nil {
				n.exclMax, n.maximum = n.maximum, nil
			}
		} else if f, ok := toFloat(raw); ok {
			n.exclMax = &f
		} else {
			return fmt.Errorf("%s - exclusiveMaximum at %s must be a number: %w", compileLogPrefix, path, ErrMalformed)
		}
	}
	return nil
}

func fillString(n *node, m map[string]interface{}, path string) error {
	var err error
	if n.minLength, err = intKeyword(m, "minLength", path); err != nil {
		return err
	}
	if n.maxLength, err = intKeyword(m, "maxLength", path); err != nil {
		return err
	}
	if raw, ok := m["pattern"]; ok {
		expr, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%s - pattern at %s must be a string: %w", compileLogPrefix, path, ErrMalformed)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("%s - bad pattern %q at %s: %v: %w", compileLogPrefix, expr, path, err, ErrMalformed)
		}
		n.pattern = re
	}
	if f, ok := m["format"].(string); ok {
		n.format = f
	}
	return nil
}

func (c *compiler) compileList(m map[string]interface{}, kw, path string, root rootDoc) ([]*node, error) {
	raw, ok := m[kw]
	if !ok {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%s - %s at %s must be a non-empty array: %w", compileLogPrefix, kw, path, ErrMalformed)
	}
	out := make([]*node, 0, len(list))
	for i, sub := range list {
		sn, err := c.compile(sub, fmt.Sprintf("%s/%s/%d", path, kw, i), root)
		if err != nil {
			return nil, err
		}
		out = append(out, sn)
	}
	return out, nil
}

// resolveRef returns the node for ref. Nodes are memoized by target so that
// recursive schemas compile to a cyclic graph instead of looping.
func (c *compiler) resolveRef(ref string, root rootDoc) (*node, error) {
	id, ptr := ref, ""
	if i := strings.Index(ref, "#"); i >= 0 {
		id, ptr = ref[:i], ref[i+1:]
	}
	target := root
	if id != "" && id != root.id {
		doc, ok := c.shared[id]
		if !ok {
			return nil, fmt.Errorf("%s - can't resolve reference %s: %w", compileLogPrefix, ref, ErrUnresolvedRef)
		}
		target = rootDoc{id: id, doc: map[string]interface{}(doc)}
	}

	key := target.id + "#" + ptr
	if n, ok := c.refs[key]; ok {
		return n, nil
	}
	sub, err := resolvePointer(target.doc, ptr)
	if err != nil {
		return nil, fmt.Errorf("%s - can't resolve reference %s: %v: %w", compileLogPrefix, ref, err, ErrUnresolvedRef)
	}
	n := &node{}
	c.refs[key] = n
	if err := c.fill(n, sub, key, target); err != nil {
		return nil, err
	}
	return n, nil
}

func resolvePointer(doc interface{}, ptr string) (interface{}, error) {
	if ptr == "" || ptr == "/" {
		return doc, nil
	}
	cur := doc
	for _, tok := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		switch v := cur.(type) {
		case []interface{}:
			var i int
			if _, err := fmt.Sscanf(tok, "%d", &i); err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("bad array index %q", tok)
			}
			cur = v[i]
		default:
			m, ok := asMap(cur)
			if !ok {
				return nil, fmt.Errorf("cannot descend into %q", tok)
			}
			next, ok := m[tok]
			if !ok {
				return nil, fmt.Errorf("missing %q", tok)
			}
			cur = next
		}
	}
	return cur, nil
}

func intKeyword(m map[string]interface{}, kw, path string) (int, error) {
	raw, ok := m[kw]
	if !ok {
		return -1, nil
	}
	f, ok := toFloat(raw)
	if !ok || f < 0 || f != float64(int(f)) {
		return -1, fmt.Errorf("%s - %s at %s must be a non-negative integer: %w", compileLogPrefix, kw, path, ErrMalformed)
	}
	return int(f), nil
}

func knownType(t string) bool {
	switch t {
	case "string", "number", "integer", "boolean", "object", "array", "null":
		return true
	}
	return false
}

func escapePointer(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "~", "~0"), "/", "~1")
}
