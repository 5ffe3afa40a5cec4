package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const (
	metaLogPrefix = "schema:meta"
	draft07URL    = "http://json-schema.org/draft-07/schema"
)

var (
	metaOnce   sync.Once
	metaSchema *jsonschema.Schema
	metaErr    error
)

func loadMetaSchema() (*jsonschema.Schema, error) {
	metaOnce.Do(func() {
		metaSchema, metaErr = jsonschema.NewCompiler().Compile(draft07URL)
	})
	return metaSchema, metaErr
}

// CheckDescriptor reports whether d is itself a valid draft-07 JSON Schema.
// References are not resolved here; Compile does that against the shared set.
func CheckDescriptor(d Descriptor) error {
	if d == nil {
		return nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("%s - descriptor is not JSON-serializable: %v: %w", metaLogPrefix, err, ErrMalformed)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%s - descriptor decode: %v: %w", metaLogPrefix, err, ErrMalformed)
	}
	meta, err := loadMetaSchema()
	if err != nil {
		return fmt.Errorf("%s - failed to load draft-07 meta-schema: %w", metaLogPrefix, err)
	}
	if err := meta.Validate(inst); err != nil {
		return fmt.Errorf("%s - descriptor is not valid JSON Schema: %v: %w", metaLogPrefix, err, ErrMalformed)
	}
	return nil
}
