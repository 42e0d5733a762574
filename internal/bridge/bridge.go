// Package bridge implements the invocation rendezvous between external
// invoke callers and the handler process. It is a hold-and-match state
// machine: the runtime long-polls for work (HoldNext), an external caller
// triggers an invocation (Trigger) which consumes the held runtime
// connection, and the runtime reports the outcome (CompleteSuccess /
// CompleteError) which completes the held caller connection.
//
// All state transitions are serialized under a single mutex. Held HTTP
// responses are written only while holding the lock and cleared in the same
// critical section, so no later transition can touch a connection that has
// already been completed.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/browserbase/functions/internal/domain"
)

// DefaultDeadline is the synthetic invocation deadline advertised to the
// runtime in the Lambda-Runtime-Deadline-Ms header.
const DefaultDeadline = 5 * time.Minute

// Lambda-compatible runtime headers set on the completed next response.
const (
	HeaderRequestID   = "Lambda-Runtime-Aws-Request-Id"
	HeaderDeadlineMs  = "Lambda-Runtime-Deadline-Ms"
	HeaderFunctionArn = "Lambda-Runtime-Invoked-Function-Arn"
)

// ErrNoRuntime is returned by Trigger when no runtime is long-polling next.
var ErrNoRuntime = errors.New("no runtime connected")

// ErrBusy is returned by Trigger when another invocation is in flight.
var ErrBusy = errors.New("another invocation is in progress")

// Conn is an HTTP response held open past its handler's natural scope. The
// owning handler goroutine blocks on Done and returns only after the bridge
// has written the response and closed the channel, so the ResponseWriter
// stays valid for the bridge's write.
type Conn struct {
	w      http.ResponseWriter
	done   chan struct{}
	heldAt time.Time
}

// NewConn wraps a ResponseWriter as a holdable connection.
func NewConn(w http.ResponseWriter) *Conn {
	return &Conn{w: w, done: make(chan struct{}), heldAt: time.Now()}
}

// Done is closed when the bridge has written this connection's response.
// After Done the owning handler must return without touching the writer.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Bridge holds at most one runtime next connection and at most one in-flight
// invoke caller connection, and matches outcome posts to the active
// invocation by request id.
type Bridge struct {
	mu sync.Mutex

	next   *Conn
	invoke *Conn

	requestID    string
	functionName string
	sessionID    string

	everConnected bool
	firstConnect  sync.Once
	onConnect     func()

	sessionCleanup func(sessionID string)

	deadline time.Duration
	timer    *time.Timer

	log *slog.Logger
}

// New creates a bridge with the default invocation deadline.
func New(log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{deadline: DefaultDeadline, log: log}
}

// SetDeadline overrides the advertised (and enforced) invocation deadline.
// Zero disables enforcement; the advertised header then uses DefaultDeadline.
func (b *Bridge) SetDeadline(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadline = d
}

// SetOnRuntimeConnect registers a hook fired once, on the first HoldNext.
// The dev server uses it to reload the manifest store after the handler
// process has had a chance to emit manifests.
func (b *Bridge) SetOnRuntimeConnect(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onConnect = fn
}

// SetSessionCleanupCallback stores a function the bridge invokes with the
// active session id on bridge-initiated terminations (deadline timeout).
// The server's invoke handler performs cleanup on its own terminal paths;
// this callback only covers terminations the handler cannot observe first.
func (b *Bridge) SetSessionCleanupCallback(fn func(sessionID string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionCleanup = fn
}

// RuntimeEverConnected reports whether a runtime has ever long-polled next.
func (b *Bridge) RuntimeEverConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.everConnected
}

// InFlight reports whether an invocation is currently active.
func (b *Bridge) InFlight() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.invoke != nil
}

// HoldNext parks a runtime next connection. If another next connection is
// already held it is preempted: the older connection is completed with 503
// and the new one takes its slot. The current invocation, if any, is
// unaffected — the new connection simply waits for the next trigger.
func (b *Bridge) HoldNext(conn *Conn) {
	b.mu.Lock()
	if b.next != nil {
		writeJSON(b.next, http.StatusServiceUnavailable, nil,
			map[string]string{"error": "Another runtime connected"})
		close(b.next.done)
		b.log.Warn("runtime next connection preempted")
	}
	b.next = conn
	b.everConnected = true
	hook := b.onConnect
	b.mu.Unlock()

	if hook != nil {
		b.firstConnect.Do(hook)
	}
}

// DropNext clears the held next connection if conn still holds the slot.
// Called by the server when the runtime's long poll disconnects.
func (b *Bridge) DropNext(conn *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next == conn {
		b.next = nil
	}
}

// Trigger starts an invocation: it atomically consumes the held next
// connection, generates a fresh request id, and completes the runtime's
// long-poll with the invocation payload. The caller connection is held until
// a matching CompleteSuccess/CompleteError (or timeout/disconnect).
//
// Fails with ErrBusy when an invocation is already in flight and ErrNoRuntime
// when no runtime is waiting; on failure no state is mutated.
func (b *Bridge) Trigger(name string, params map[string]any, ictx *domain.InvocationContext, caller *Conn, sessionID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.invoke != nil {
		return "", ErrBusy
	}
	if b.next == nil {
		return "", ErrNoRuntime
	}

	id := uuid.NewString()
	deadline := b.deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	headers := map[string]string{
		HeaderRequestID:   id,
		HeaderDeadlineMs:  fmt.Sprintf("%d", time.Now().Add(deadline).UnixMilli()),
		HeaderFunctionArn: fmt.Sprintf("arn:aws:lambda:local:000000000000:function:%s", name),
	}
	payload := domain.EventPayload{
		FunctionName: name,
		Params:       params,
		Context:      ictx,
	}
	if payload.Params == nil {
		payload.Params = map[string]any{}
	}

	writeJSON(b.next, http.StatusOK, headers, payload)
	close(b.next.done)
	b.next = nil

	b.invoke = caller
	b.requestID = id
	b.functionName = name
	b.sessionID = sessionID

	if b.deadline > 0 {
		b.timer = time.AfterFunc(b.deadline, func() { b.timeout(id) })
	}

	b.log.Info("invocation triggered", "function", name, "request_id", id, "session_id", sessionID)
	return id, nil
}

// CompleteSuccess matches a runtime response post to the active invocation.
// On a match it writes the result as the caller's 200 response and resets to
// idle; on a request id mismatch (or no active invocation) it returns false
// and the held caller is unaffected.
func (b *Bridge) CompleteSuccess(requestID string, result json.RawMessage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.invoke == nil || requestID != b.requestID {
		return false
	}

	headers := map[string]string{"X-Request-ID": requestID}
	writeRaw(b.invoke, http.StatusOK, headers, result)
	close(b.invoke.done)
	b.log.Info("invocation completed", "function", b.functionName, "request_id", requestID)
	b.clearLocked()
	return true
}

// CompleteError is CompleteSuccess for the error path: it writes a 500 with
// the structured handler-failure envelope to the held caller.
func (b *Bridge) CompleteError(requestID string, rerr domain.RuntimeError) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.invoke == nil || requestID != b.requestID {
		return false
	}

	headers := map[string]string{"X-Request-ID": requestID}
	writeJSON(b.invoke, http.StatusInternalServerError, headers, map[string]any{
		"error": map[string]any{
			"message":    rerr.ErrorMessage,
			"type":       rerr.ErrorType,
			"stackTrace": rerr.StackTrace,
		},
	})
	close(b.invoke.done)
	b.log.Warn("invocation failed", "function", b.functionName, "request_id", requestID,
		"error_type", rerr.ErrorType, "error", rerr.ErrorMessage)
	b.clearLocked()
	return true
}

// AbandonInvoke clears the in-flight invocation if conn still holds it.
// Called by the server when the external caller disconnects before the
// outcome arrives. Returns true if the invocation was still active.
func (b *Bridge) AbandonInvoke(conn *Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.invoke != conn {
		return false
	}
	b.log.Warn("invoke caller disconnected mid-invocation",
		"function", b.functionName, "request_id", b.requestID)
	b.clearLocked()
	return true
}

// timeout fires when an invocation exceeds its advertised deadline: the held
// caller receives a 504 and the session cleanup callback, if set, is invoked.
func (b *Bridge) timeout(requestID string) {
	b.mu.Lock()
	if b.invoke == nil || requestID != b.requestID {
		b.mu.Unlock()
		return
	}
	writeJSON(b.invoke, http.StatusGatewayTimeout, nil,
		map[string]string{"error": "Invocation timed out"})
	close(b.invoke.done)
	b.log.Warn("invocation timed out", "function", b.functionName, "request_id", requestID)
	sessionID := b.sessionID
	cleanup := b.sessionCleanup
	b.clearLocked()
	b.mu.Unlock()

	if cleanup != nil && sessionID != "" {
		cleanup(sessionID)
	}
}

// clearLocked resets the invocation slot to idle. Caller must hold b.mu.
func (b *Bridge) clearLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.invoke = nil
	b.requestID = ""
	b.functionName = ""
	b.sessionID = ""
}

// writeJSON writes a JSON response to a held connection. Callers must hold
// the bridge lock and must close conn.done immediately after, in the same
// critical section.
func writeJSON(conn *Conn, status int, headers map[string]string, v any) {
	for k, val := range headers {
		conn.w.Header().Set(k, val)
	}
	conn.w.Header().Set("Content-Type", "application/json")
	conn.w.WriteHeader(status)
	if err := json.NewEncoder(conn.w).Encode(v); err != nil {
		slog.Error("failed to write held response", "error", err)
	}
}

// writeRaw writes pre-encoded JSON to a held connection.
func writeRaw(conn *Conn, status int, headers map[string]string, body json.RawMessage) {
	for k, val := range headers {
		conn.w.Header().Set(k, val)
	}
	conn.w.Header().Set("Content-Type", "application/json")
	conn.w.WriteHeader(status)
	if len(body) == 0 {
		body = json.RawMessage("{}")
	}
	if _, err := conn.w.Write(body); err != nil {
		slog.Error("failed to write held response", "error", err)
	}
}
