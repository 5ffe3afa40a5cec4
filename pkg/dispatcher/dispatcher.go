package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/morezero/ws-dispatch/pkg/events"
	"github.com/morezero/ws-dispatch/pkg/schema"
)

const logPrefix = "dispatcher:dispatch"

// Dispatcher turns one incoming message into one response.
type Dispatcher struct {
	registry  *Registry
	validator *schema.Validator
	publisher events.ViolationPublisher
	metrics   *Metrics
}

// NewDispatcherParams holds the parameters for NewDispatcher.
type NewDispatcherParams struct {
	// Registry defaults to an empty registry.
	Registry *Registry
	// Validator defaults to a validator without shared schemas.
	Validator *schema.Validator
	// Publisher receives contract violations; defaults to a no-op.
	Publisher events.ViolationPublisher
	// Metrics is optional.
	Metrics *Metrics
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) (*Dispatcher, error) {
	if params.Registry == nil {
		params.Registry = NewRegistry()
	}
	if params.Validator == nil {
		v, err := schema.NewValidator()
		if err != nil {
			return nil, fmt.Errorf("%s - failed to create validator: %w", logPrefix, err)
		}
		params.Validator = v
	}
	if params.Publisher == nil {
		params.Publisher = &events.NoOpPublisher{}
	}
	return &Dispatcher{
		registry:  params.Registry,
		validator: params.Validator,
		publisher: params.Publisher,
		metrics:   params.Metrics,
	}, nil
}

// Register adds or replaces the handler for method.
func (d *Dispatcher) Register(method string, handler Handler, s schema.Pair) {
	d.registry.Register(method, handler, s)
	slog.Debug(fmt.Sprintf("%s - Registered %s", logPrefix, method))
}

// Get returns the entry for method.
func (d *Dispatcher) Get(method string) (*Entry, bool) { return d.registry.Get(method) }

// Has reports whether method is registered.
func (d *Dispatcher) Has(method string) bool { return d.registry.Has(method) }

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Validator returns the schema validator used for every message.
func (d *Dispatcher) Validator() *schema.Validator { return d.validator }

// Precompile compiles every registered schema so malformed descriptors are
// reported at startup rather than on first use.
func (d *Dispatcher) Precompile() error {
	var errs []error
	for _, method := range d.registry.Methods() {
		entry, ok := d.registry.Get(method)
		if !ok {
			continue
		}
		for _, part := range []struct {
			name string
			desc schema.Descriptor
		}{
			{"request", entry.Schema.Request},
			{"response", entry.Schema.Response},
		} {
			if part.desc == nil {
				continue
			}
			if _, err := d.validator.Compile(part.desc); err != nil {
				errs = append(errs, fmt.Errorf("%s - %s %s schema: %w", logPrefix, method, part.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Process dispatches msg and always returns a response whose ID equals msg.ID.
// It never panics.
func (d *Dispatcher) Process(ctx context.Context, msg *Message, conn Connection, req *RequestContext) (resp *Response) {
	if msg == nil {
		return internalErrorResponse(0)
	}

	start := time.Now()
	label := unregisteredMethod
	outcome := outcomeInternalError
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - panic in %s id=%d: %v\n%s", logPrefix, msg.Method, msg.ID, r, debug.Stack()))
			resp = internalErrorResponse(msg.ID)
			outcome = outcomeInternalError
		}
		d.metrics.observe(label, outcome, time.Since(start))
	}()

	slog.Debug(fmt.Sprintf("%s - method=%s id=%d", logPrefix, msg.Method, msg.ID))

	entry, ok := d.registry.Get(msg.Method)
	if !ok {
		outcome = outcomeNotFound
		return errorResponse(msg.ID, CodeNotFound, fmt.Sprintf("Method %s not found", msg.Method), nil)
	}
	label = msg.Method

	var params interface{} = map[string]interface{}{}
	if len(msg.Params) > 0 {
		params = msg.Params
	}
	reqResult, err := d.validator.ValidateRequest(params, entry.Schema.Request)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - request schema for %s failed: %v", logPrefix, msg.Method, err))
		return internalErrorResponse(msg.ID)
	}
	if !reqResult.Valid {
		outcome = outcomeInvalidRequest
		return errorResponse(msg.ID, CodeInvalidRequest, msgInvalidRequest, reqResult.Errors)
	}

	coerced, err := json.Marshal(reqResult.Data)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to re-encode params for %s: %v", logPrefix, msg.Method, err))
		return internalErrorResponse(msg.ID)
	}
	call := *msg
	call.Params = coerced

	out, err := entry.Handler(ctx, &call, conn, req)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - handler %s id=%d failed: %v", logPrefix, msg.Method, msg.ID, err))
		return internalErrorResponse(msg.ID)
	}

	if out.IsFailed() {
		outcome = outcomeHandlerError
		code := out.code
		return &Response{ID: msg.ID, Code: &code, Error: out.err}
	}

	resResult, err := d.validator.ValidateResponse(out.Value(), entry.Schema.Response)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - response schema for %s failed: %v", logPrefix, msg.Method, err))
		return internalErrorResponse(msg.ID)
	}
	if !resResult.Valid {
		outcome = outcomeInvalidResponse
		summary := schema.Summarize(resResult.Errors)
		slog.Error(fmt.Sprintf("%s - %s id=%d returned an invalid result: %s", logPrefix, msg.Method, msg.ID, summary))
		d.publishViolation(ctx, msg, conn, resResult.Errors)
		return errorResponse(msg.ID, CodeInternal, summary, nil)
	}

	outcome = outcomeSuccess
	return &Response{
		ID:      msg.ID,
		Method:  msg.Method,
		Result:  resResult.Data,
		Cookies: out.cookies,
	}
}

func (d *Dispatcher) publishViolation(ctx context.Context, msg *Message, conn Connection, issues []schema.Issue) {
	event := &events.ContractViolationEvent{
		Method:    msg.Method,
		MessageID: msg.ID,
		Issues:    issues,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if conn != nil {
		event.ConnectionID = conn.ID()
	}
	if err := d.publisher.PublishViolation(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish violation for %s: %v", logPrefix, msg.Method, err))
	}
}
