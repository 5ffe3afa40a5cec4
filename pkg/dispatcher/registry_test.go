package dispatcher

import (
	"context"
	"reflect"
	"testing"

	"github.com/morezero/ws-dispatch/pkg/schema"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *Message, Connection, *RequestContext) (Outcome, error) { return Ok(nil), nil }

	if r.Has("a") {
		t.Error("dispatcher:registry_test - empty registry reports a method")
	}
	r.Register("b", noop, schema.Pair{})
	r.Register("a", noop, schema.Pair{Request: schema.Descriptor{"type": "object"}})

	if !r.Has("a") || !r.Has("b") {
		t.Error("dispatcher:registry_test - registered methods missing")
	}
	e, ok := r.Get("a")
	if !ok || e.Schema.Request["type"] != "object" {
		t.Errorf("dispatcher:registry_test - unexpected entry %+v", e)
	}
	if got := r.Methods(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("dispatcher:registry_test - expected sorted methods, got %v", got)
	}
}

func TestMessage_Bind(t *testing.T) {
	var empty map[string]interface{}
	if err := (&Message{}).Bind(&empty); err != nil || empty == nil {
		t.Errorf("dispatcher:registry_test - absent params should bind as {}: %v %v", empty, err)
	}
}

func TestFailed_NilError(t *testing.T) {
	o := Failed(418, nil)
	if !o.IsFailed() || o.err == nil || o.err.Code != 418 {
		t.Errorf("dispatcher:registry_test - unexpected outcome %+v", o)
	}
	if Ok(1).IsFailed() || Ok(1).Value() != 1 {
		t.Error("dispatcher:registry_test - Ok outcome misreported")
	}
}
