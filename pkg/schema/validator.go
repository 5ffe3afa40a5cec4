package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

const logPrefix = "schema:validator"

// ErrMissingID is returned by AddSchema for a shared schema without a "$id".
var ErrMissingID = errors.New("shared schema has no $id")

// Routine is a compiled descriptor. It is immutable and safe for concurrent use.
type Routine struct {
	root *node
}

// Validate checks a normalized value. The value is copied before coercion,
// so v is never modified.
func (r *Routine) Validate(v interface{}) Result {
	st := &state{}
	data := r.root.validate(deepCopy(v), "", st)
	if len(st.issues) > 0 {
		return Result{Valid: false, Errors: st.issues}
	}
	return Result{Valid: true, Data: data}
}

// Validator compiles descriptors and validates values against them. Shared
// schemas added with AddSchema can be referenced by "$ref": "<$id>".
type Validator struct {
	mu     sync.RWMutex
	shared map[string]Descriptor
	gen    uint64   // bumped by AddSchema, guarded by mu
	cache  sync.Map // canonical descriptor JSON -> *Routine
}

// NewValidator creates a Validator pre-seeded with the given shared schemas.
func NewValidator(shared ...Descriptor) (*Validator, error) {
	v := &Validator{shared: make(map[string]Descriptor)}
	for _, d := range shared {
		if err := v.AddSchema(d); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// AddSchema registers a shared schema under its "$id". Adding a schema with an
// existing id replaces it and drops every compiled routine.
func (v *Validator) AddSchema(d Descriptor) error {
	id, _ := d["$id"].(string)
	id = strings.TrimSuffix(id, "#")
	if id == "" {
		return fmt.Errorf("%s - %w", logPrefix, ErrMissingID)
	}
	if err := CheckDescriptor(d); err != nil {
		return fmt.Errorf("%s - shared schema %s: %w", logPrefix, id, err)
	}

	v.mu.Lock()
	v.shared[id] = d
	v.gen++
	v.cache.Clear()
	v.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - Added shared schema %s", logPrefix, id))
	return nil
}

// SharedIDs returns the ids of all shared schemas, sorted.
func (v *Validator) SharedIDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.shared))
	for id := range v.shared {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Compile returns the routine for d, compiling it on first use.
func (v *Validator) Compile(d Descriptor) (*Routine, error) {
	key, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("%s - descriptor is not JSON-serializable: %v: %w", logPrefix, err, ErrMalformed)
	}
	if r, ok := v.cache.Load(string(key)); ok {
		return r.(*Routine), nil
	}

	if err := CheckDescriptor(d); err != nil {
		return nil, err
	}
	v.mu.RLock()
	gen := v.gen
	shared := make(map[string]Descriptor, len(v.shared))
	for id, sd := range v.shared {
		shared[id] = sd
	}
	v.mu.RUnlock()

	root, err := newCompiler(shared).compileRoot(d)
	if err != nil {
		return nil, err
	}
	return v.store(string(key), &Routine{root: root}, gen), nil
}

// store caches r unless AddSchema ran after the shared set r was compiled
// against was read, in which case r is returned uncached.
func (v *Validator) store(key string, r *Routine, gen uint64) *Routine {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.gen != gen {
		return r
	}
	cached, _ := v.cache.LoadOrStore(key, r)
	return cached.(*Routine)
}

// ValidateRequest validates request params. The error is non-nil only when
// the descriptor cannot be compiled or the value cannot be read as JSON.
func (v *Validator) ValidateRequest(value interface{}, d Descriptor) (Result, error) {
	return v.validate(value, d)
}

// ValidateResponse validates a handler result with the same semantics as
// ValidateRequest.
func (v *Validator) ValidateResponse(value interface{}, d Descriptor) (Result, error) {
	return v.validate(value, d)
}

func (v *Validator) validate(value interface{}, d Descriptor) (Result, error) {
	normalized, err := Normalize(value)
	if err != nil {
		return Result{}, err
	}
	// A nil descriptor places no constraint on the value.
	if d == nil {
		return Result{Valid: true, Data: normalized}, nil
	}
	r, err := v.Compile(d)
	if err != nil {
		return Result{}, err
	}
	return r.Validate(normalized), nil
}
