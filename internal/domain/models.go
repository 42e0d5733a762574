// Package domain defines the core types shared across the functions dev
// server: function manifests, sessions, invocation payloads, and the runtime
// error shape. These types represent the invocation protocol's data model —
// not HTTP specifics.
//
// Several wire types (Session, InvocationContext) carry unknown passthrough
// fields: the bridge forwards whatever the session provider or the external
// caller supplied without interpreting it. Those types implement custom JSON
// marshalling that preserves unrecognised top-level fields.
package domain

import (
	"context"
	"encoding/json"
)

// HandlerFunc is the signature of a user function handler. It receives the
// per-invocation context (session, invocation metadata, caller passthrough)
// and the parameter payload, and returns a JSON-serialisable result.
type HandlerFunc func(ctx context.Context, ictx *InvocationContext, params map[string]any) (any, error)

// FunctionConfig carries the per-function configuration registered alongside
// a handler. SessionConfig is forwarded verbatim to the session provider;
// ParametersSchema is a JSON Schema document applied to invoke params.
type FunctionConfig struct {
	SessionConfig    map[string]any `json:"sessionConfig,omitempty"`
	ParametersSchema map[string]any `json:"parametersSchema,omitempty"`
}

// Function is a registered function: a name, a handler, and its config.
// Only the handler process holds handlers; manifests persist the rest.
type Function struct {
	Name    string
	Handler HandlerFunc
	Config  FunctionConfig
}

// Manifest is the persisted record of a function, written during the
// introspect phase and read back by the dev server at startup.
type Manifest struct {
	Name   string         `json:"name"`
	Config FunctionConfig `json:"config"`
}

// Session is a remote browser session acquired from the session provider.
// Unknown provider fields are preserved in Extra and re-emitted on marshal.
type Session struct {
	ID         string `json:"id"`
	ConnectURL string `json:"connectUrl"`

	// Extra holds provider fields beyond id/connectUrl (status, region, ...).
	Extra map[string]any `json:"-"`
}

// MarshalJSON emits id, connectUrl, and all passthrough fields.
func (s Session) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(s.Extra)+2)
	for k, v := range s.Extra {
		m[k] = v
	}
	m["id"] = s.ID
	m["connectUrl"] = s.ConnectURL
	return json.Marshal(m)
}

// UnmarshalJSON captures id and connectUrl and keeps everything else in Extra.
func (s *Session) UnmarshalJSON(data []byte) error {
	type alias Session
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = Session(a)

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "id")
	delete(raw, "connectUrl")
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}

// InvocationInfo identifies a single invocation.
type InvocationInfo struct {
	ID     string `json:"id"`
	Region string `json:"region"`
}

// InvocationContext is the context object delivered to the handler with each
// invocation. The server always forces Session to the session it acquired;
// Invocation defaults to a fresh id in region "local" when the caller did not
// supply one. Caller-supplied top-level fields are passed through in Extra.
type InvocationContext struct {
	Invocation *InvocationInfo `json:"invocation,omitempty"`
	Session    *Session        `json:"session,omitempty"`

	Extra map[string]any `json:"-"`
}

// MarshalJSON emits invocation, session, and all passthrough fields.
func (c InvocationContext) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Extra)+2)
	for k, v := range c.Extra {
		m[k] = v
	}
	if c.Invocation != nil {
		m["invocation"] = c.Invocation
	}
	if c.Session != nil {
		m["session"] = c.Session
	}
	return json.Marshal(m)
}

// UnmarshalJSON captures invocation and session and keeps the rest in Extra.
func (c *InvocationContext) UnmarshalJSON(data []byte) error {
	type alias InvocationContext
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = InvocationContext(a)

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "invocation")
	delete(raw, "session")
	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// EventPayload is the body of a completed runtime-next response: one unit of
// work handed to the runtime loop.
type EventPayload struct {
	FunctionName string             `json:"functionName"`
	Params       map[string]any     `json:"params"`
	Context      *InvocationContext `json:"context"`
}

// RuntimeError is the normalized error shape posted from the runtime loop to
// the bridge's error endpoint, and reshaped into the caller's 500 body.
// All three fields are always present on the wire.
type RuntimeError struct {
	ErrorMessage string   `json:"errorMessage"`
	ErrorType    string   `json:"errorType"`
	StackTrace   []string `json:"stackTrace"`
}
