// Package events defines event types and publisher interfaces for dispatch contract violations.
package events

import "github.com/morezero/ws-dispatch/pkg/schema"

// ContractViolationEvent is emitted when a handler returns a value that fails
// its own declared response schema.
type ContractViolationEvent struct {
	Method       string         `json:"method"`
	MessageID    int64          `json:"messageId"`
	ConnectionID string         `json:"connectionId,omitempty"`
	Issues       []schema.Issue `json:"issues"`
	Timestamp    string         `json:"timestamp"`
}
