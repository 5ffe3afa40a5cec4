package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/ws-dispatch/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// GlobalSubject overrides the global violation subject (e.g. from VIOLATION_SUBJECT).
	GlobalSubject string
	// Codec encodes events; defaults to JSON.
	Codec commsutil.Codec
}

// CommsPublisher publishes contract violation events to COMMS subjects.
type CommsPublisher struct {
	nc            *comms.Conn
	globalSubject string
	codec         commsutil.Codec
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	globalSubject := commsutil.SubjectViolation
	var codec commsutil.Codec = commsutil.JSONCodec{}
	if opts != nil {
		if opts.GlobalSubject != "" {
			globalSubject = opts.GlobalSubject
		}
		if opts.Codec != nil {
			codec = opts.Codec
		}
	}
	return &CommsPublisher{nc: nc, globalSubject: globalSubject, codec: codec}
}

// PublishViolation publishes a ContractViolationEvent to both the per-method
// and global violation subjects.
func (p *CommsPublisher) PublishViolation(_ context.Context, event *ContractViolationEvent) error {
	data, err := p.codec.Encode(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	methodSubject := commsutil.BuildViolationSubject(p.globalSubject, event.Method)
	if err := p.nc.Publish(methodSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, methodSubject, err))
		return err
	}

	if err := p.nc.Publish(p.globalSubject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, p.globalSubject, err))
		return err
	}

	slog.Debug(fmt.Sprintf("%s - Published violation event for %s id=%d", commsPublisherLogPrefix, event.Method, event.MessageID))
	return nil
}
