// Package dispatcher resolves incoming messages to registered handlers,
// validates params and results against declared schemas and builds the
// response envelope.
package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/fxamacker/cbor/v2"

	"github.com/morezero/ws-dispatch/pkg/schema"
)

// Wire error codes.
const (
	CodeInvalidRequest = 400
	CodeNotFound       = 404
	CodeInternal       = 500
)

const (
	msgInvalidRequest = "Invalid request parameters"
	msgInternal       = "Internal server error"
)

// Message is the JSON envelope of an incoming request.
type Message struct {
	ID     int64           `json:"id"`
	Type   string          `json:"type"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Token  string          `json:"token"`
}

// Bind decodes the message params into v. Inside a handler the params have
// already been coerced and defaulted by the request schema.
func (m *Message) Bind(v interface{}) error {
	if len(m.Params) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(m.Params, v)
}

// Response is the JSON envelope returned for every dispatched message.
// Exactly one of Result or Error is set.
type Response struct {
	ID      int64                  `json:"id"`
	Method  string                 `json:"method,omitempty"`
	Result  interface{}            `json:"result,omitempty"`
	Cookies map[string]interface{} `json:"cookies,omitempty"`
	// Code is only set when a handler reports a domain failure.
	Code  *int       `json:"code,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

type plainResponse Response

// successResponse keeps "result" on the wire when the handler's value is null.
type successResponse struct {
	*plainResponse
	Result interface{} `json:"result"`
}

func (r Response) wire() interface{} {
	if r.Error != nil {
		return (*plainResponse)(&r)
	}
	return successResponse{plainResponse: (*plainResponse)(&r), Result: r.Result}
}

// MarshalJSON encodes the envelope. A success always carries "result", even
// when it is null.
func (r Response) MarshalJSON() ([]byte, error) { return json.Marshal(r.wire()) }

// MarshalCBOR encodes the envelope for the CBOR wire codec with the same
// fields as MarshalJSON.
func (r Response) MarshalCBOR() ([]byte, error) { return cbor.Marshal(r.wire()) }

// ErrorBody holds structured error information.
type ErrorBody struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details []schema.Issue `json:"details,omitempty"`
}

// Connection is the transport session a message arrived on. The dispatcher
// passes it to handlers untouched.
type Connection interface {
	ID() string
	RemoteAddr() string
}

// RequestContext carries transport metadata for the request that opened the
// connection. The dispatcher passes it to handlers untouched.
type RequestContext struct {
	Transport  string            `json:"transport"`
	RemoteAddr string            `json:"remoteAddr,omitempty"`
	Header     http.Header       `json:"-"`
	Cookies    map[string]string `json:"cookies,omitempty"`
}

func errorResponse(id int64, code int, message string, details []schema.Issue) *Response {
	return &Response{
		ID: id,
		Error: &ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func internalErrorResponse(id int64) *Response {
	return errorResponse(id, CodeInternal, msgInternal, nil)
}
