// Package builtin registers the rpc.* methods every dispatcher exposes.
package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/morezero/ws-dispatch/pkg/catalog"
	"github.com/morezero/ws-dispatch/pkg/dispatcher"
	"github.com/morezero/ws-dispatch/pkg/schema"
)

const logPrefix = "builtin:methods"

// Method names.
const (
	MethodPing     = "rpc.ping"
	MethodDescribe = "rpc.describe"
	MethodHealth   = "rpc.health"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Check reports the health of one dependency.
type Check func(ctx context.Context) error

// Options configures Register.
type Options struct {
	// Checks are run by rpc.health, keyed by dependency name.
	Checks map[string]Check
	// Critical names the checks whose failure makes the service unhealthy
	// rather than degraded.
	Critical []string
	// StartTime defaults to the time Register is called.
	StartTime time.Time
	// Now defaults to time.Now.
	Now func() time.Time
}

type methods struct {
	d       *dispatcher.Dispatcher
	opts    Options
	started time.Time
}

// Register adds the builtin methods to d. rpc.health validates its result
// against the shared schema catalog.HealthReportID, which must have been
// added to d's validator.
func Register(d *dispatcher.Dispatcher, opts Options) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StartTime.IsZero() {
		opts.StartTime = opts.Now()
	}
	m := &methods{d: d, opts: opts, started: opts.StartTime}

	d.Register(MethodPing, m.ping, schema.Pair{Request: pingRequest, Response: pingResponse})
	d.Register(MethodDescribe, m.describe, schema.Pair{Request: describeRequest, Response: describeResponse})
	d.Register(MethodHealth, m.health, schema.Pair{Request: healthRequest, Response: healthResponse})

	slog.Info(fmt.Sprintf("%s - Registered %s, %s, %s", logPrefix, MethodPing, MethodDescribe, MethodHealth))
}

func (m *methods) ping(_ context.Context, msg *dispatcher.Message, _ dispatcher.Connection, _ *dispatcher.RequestContext) (dispatcher.Outcome, error) {
	var p struct {
		Echo string `json:"echo"`
	}
	if err := msg.Bind(&p); err != nil {
		return dispatcher.Outcome{}, err
	}
	return dispatcher.Ok(map[string]interface{}{
		"pong":       true,
		"echo":       p.Echo,
		"serverTime": m.opts.Now().UTC().Format(time.RFC3339Nano),
	}), nil
}

type methodInfo struct {
	Name     string            `json:"name"`
	Request  schema.Descriptor `json:"request"`
	Response schema.Descriptor `json:"response"`
}

func (m *methods) describe(_ context.Context, msg *dispatcher.Message, _ dispatcher.Connection, _ *dispatcher.RequestContext) (dispatcher.Outcome, error) {
	var p struct {
		Method string `json:"method"`
	}
	if err := msg.Bind(&p); err != nil {
		return dispatcher.Outcome{}, err
	}

	names := m.d.Registry().Methods()
	if p.Method != "" {
		if !m.d.Has(p.Method) {
			return dispatcher.Failed(dispatcher.CodeNotFound, &dispatcher.ErrorBody{
				Code:    dispatcher.CodeNotFound,
				Message: fmt.Sprintf("Method %s not found", p.Method),
			}), nil
		}
		names = []string{p.Method}
	}

	infos := make([]methodInfo, 0, len(names))
	for _, name := range names {
		entry, ok := m.d.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, methodInfo{Name: name, Request: entry.Schema.Request, Response: entry.Schema.Response})
	}

	return dispatcher.Ok(map[string]interface{}{
		"methods":       infos,
		"sharedSchemas": m.d.Validator().SharedIDs(),
	}), nil
}

func (m *methods) health(ctx context.Context, _ *dispatcher.Message, _ dispatcher.Connection, _ *dispatcher.RequestContext) (dispatcher.Outcome, error) {
	names := make([]string, 0, len(m.opts.Checks))
	for name := range m.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	critical := make(map[string]bool, len(m.opts.Critical))
	for _, name := range m.opts.Critical {
		critical[name] = true
	}

	status := StatusHealthy
	checks := make(map[string]interface{}, len(names))
	for _, name := range names {
		if err := m.opts.Checks[name](ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - health check %s failed: %v", logPrefix, name, err))
			checks[name] = "error: " + err.Error()
			if critical[name] {
				status = StatusUnhealthy
			} else if status == StatusHealthy {
				status = StatusDegraded
			}
			continue
		}
		checks[name] = "ok"
	}

	now := m.opts.Now()
	return dispatcher.Ok(map[string]interface{}{
		"status":        status,
		"checks":        checks,
		"uptimeSeconds": int64(now.Sub(m.started).Seconds()),
		"timestamp":     now.UTC().Format(time.RFC3339),
	}), nil
}

var (
	pingRequest = schema.Descriptor{
		"type": "object",
		"properties": map[string]interface{}{
			"echo": map[string]interface{}{"type": "string", "maxLength": 256, "default": ""},
		},
	}
	pingResponse = schema.Descriptor{
		"type": "object",
		"properties": map[string]interface{}{
			"pong":       map[string]interface{}{"const": true},
			"echo":       map[string]interface{}{"type": "string"},
			"serverTime": map[string]interface{}{"type": "string", "format": "date-time"},
		},
		"required": []interface{}{"pong", "serverTime"},
	}

	describeRequest = schema.Descriptor{
		"type": "object",
		"properties": map[string]interface{}{
			"method": map[string]interface{}{"type": "string"},
		},
	}
	describeResponse = schema.Descriptor{
		"type": "object",
		"properties": map[string]interface{}{
			"methods": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"name":     map[string]interface{}{"type": "string"},
						"request":  map[string]interface{}{"type": []interface{}{"object", "null"}},
						"response": map[string]interface{}{"type": []interface{}{"object", "null"}},
					},
					"required": []interface{}{"name"},
				},
			},
			"sharedSchemas": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
		"required": []interface{}{"methods", "sharedSchemas"},
	}

	healthRequest = schema.Descriptor{
		"type":                 "object",
		"additionalProperties": false,
	}
	healthResponse = schema.Descriptor{"$ref": catalog.HealthReportID}
)
