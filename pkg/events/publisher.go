package events

import "context"

// ViolationPublisher is the interface for publishing contract violation events.
type ViolationPublisher interface {
	PublishViolation(ctx context.Context, event *ContractViolationEvent) error
}

// NoOpPublisher is a ViolationPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishViolation is a no-op.
func (p *NoOpPublisher) PublishViolation(_ context.Context, _ *ContractViolationEvent) error {
	return nil
}

// CallbackPublisher is a ViolationPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *ContractViolationEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *ContractViolationEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishViolation calls the callback.
func (p *CallbackPublisher) PublishViolation(ctx context.Context, event *ContractViolationEvent) error {
	return p.callback(ctx, event)
}
