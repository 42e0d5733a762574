package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserbase/functions/internal/domain"
)

func testContext() *domain.InvocationContext {
	return &domain.InvocationContext{
		Invocation: &domain.InvocationInfo{ID: "inv-1", Region: "local"},
		Session:    &domain.Session{ID: "sess-1", ConnectURL: "ws://127.0.0.1:9222/devtools/browser/sess-1"},
	}
}

// isDone reports whether the connection's done channel has been closed.
func isDone(c *Conn) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

func TestTrigger_NoRuntime(t *testing.T) {
	b := New(nil)
	caller := NewConn(httptest.NewRecorder())

	_, err := b.Trigger("fn", nil, testContext(), caller, "sess-1")
	assert.ErrorIs(t, err, ErrNoRuntime)
	assert.False(t, b.InFlight())
	assert.False(t, isDone(caller))
}

func TestHoldNextAndTrigger(t *testing.T) {
	b := New(nil)

	nextRec := httptest.NewRecorder()
	next := NewConn(nextRec)
	b.HoldNext(next)
	assert.True(t, b.RuntimeEverConnected())

	caller := NewConn(httptest.NewRecorder())
	id, err := b.Trigger("scrape", map[string]any{"url": "https://example.com"}, testContext(), caller, "sess-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// The runtime's long-poll completes with the invocation payload.
	require.True(t, isDone(next))
	assert.Equal(t, http.StatusOK, nextRec.Code)
	assert.Equal(t, id, nextRec.Header().Get(HeaderRequestID))
	assert.Contains(t, nextRec.Header().Get(HeaderFunctionArn), "function:scrape")
	assert.NotEmpty(t, nextRec.Header().Get(HeaderDeadlineMs))

	var payload domain.EventPayload
	require.NoError(t, json.Unmarshal(nextRec.Body.Bytes(), &payload))
	assert.Equal(t, "scrape", payload.FunctionName)
	assert.Equal(t, "https://example.com", payload.Params["url"])
	require.NotNil(t, payload.Context)
	require.NotNil(t, payload.Context.Session)
	assert.Equal(t, "sess-1", payload.Context.Session.ID)

	// The caller stays held until the outcome arrives.
	assert.False(t, isDone(caller))
	assert.True(t, b.InFlight())
}

func TestTrigger_NilParamsBecomesEmptyObject(t *testing.T) {
	b := New(nil)
	nextRec := httptest.NewRecorder()
	b.HoldNext(NewConn(nextRec))

	_, err := b.Trigger("fn", nil, testContext(), NewConn(httptest.NewRecorder()), "s")
	require.NoError(t, err)

	var payload map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(nextRec.Body.Bytes(), &payload))
	assert.JSONEq(t, `{}`, string(payload["params"]))
}

func TestTrigger_Busy(t *testing.T) {
	b := New(nil)
	b.HoldNext(NewConn(httptest.NewRecorder()))

	_, err := b.Trigger("fn", nil, testContext(), NewConn(httptest.NewRecorder()), "s1")
	require.NoError(t, err)

	// A second runtime poll arrives while the first invocation is still in
	// flight: valid, but a second trigger is still rejected.
	b.HoldNext(NewConn(httptest.NewRecorder()))
	second := NewConn(httptest.NewRecorder())
	_, err = b.Trigger("fn", nil, testContext(), second, "s2")
	assert.ErrorIs(t, err, ErrBusy)
	assert.False(t, isDone(second))
}

func TestCompleteSuccess(t *testing.T) {
	b := New(nil)
	b.HoldNext(NewConn(httptest.NewRecorder()))

	callerRec := httptest.NewRecorder()
	caller := NewConn(callerRec)
	id, err := b.Trigger("fn", nil, testContext(), caller, "s")
	require.NoError(t, err)

	ok := b.CompleteSuccess(id, json.RawMessage(`{"title":"Example"}`))
	require.True(t, ok)
	require.True(t, isDone(caller))

	assert.Equal(t, http.StatusOK, callerRec.Code)
	assert.Equal(t, id, callerRec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"title":"Example"}`, callerRec.Body.String())
	assert.False(t, b.InFlight())
}

func TestCompleteSuccess_EmptyResultBecomesEmptyObject(t *testing.T) {
	b := New(nil)
	b.HoldNext(NewConn(httptest.NewRecorder()))

	callerRec := httptest.NewRecorder()
	id, err := b.Trigger("fn", nil, testContext(), NewConn(callerRec), "s")
	require.NoError(t, err)

	require.True(t, b.CompleteSuccess(id, nil))
	assert.JSONEq(t, `{}`, callerRec.Body.String())
}

func TestCompleteSuccess_IDMismatch(t *testing.T) {
	b := New(nil)
	b.HoldNext(NewConn(httptest.NewRecorder()))

	callerRec := httptest.NewRecorder()
	caller := NewConn(callerRec)
	id, err := b.Trigger("fn", nil, testContext(), caller, "s")
	require.NoError(t, err)

	assert.False(t, b.CompleteSuccess("wrong-id", json.RawMessage(`{}`)))

	// The held caller is untouched and the invocation stays active.
	assert.False(t, isDone(caller))
	assert.Zero(t, callerRec.Body.Len())
	assert.True(t, b.InFlight())

	// The correct id still completes afterwards.
	assert.True(t, b.CompleteSuccess(id, json.RawMessage(`{}`)))
}

func TestCompleteSuccess_NoActiveInvocation(t *testing.T) {
	b := New(nil)
	assert.False(t, b.CompleteSuccess("any", json.RawMessage(`{}`)))
}

func TestCompleteError(t *testing.T) {
	b := New(nil)
	b.HoldNext(NewConn(httptest.NewRecorder()))

	callerRec := httptest.NewRecorder()
	id, err := b.Trigger("fn", nil, testContext(), NewConn(callerRec), "s")
	require.NoError(t, err)

	ok := b.CompleteError(id, domain.RuntimeError{
		ErrorMessage: "element not found",
		ErrorType:    "TimeoutError",
		StackTrace:   []string{"at click", "at run"},
	})
	require.True(t, ok)

	assert.Equal(t, http.StatusInternalServerError, callerRec.Code)
	assert.JSONEq(t, `{
		"error": {
			"message": "element not found",
			"type": "TimeoutError",
			"stackTrace": ["at click", "at run"]
		}
	}`, callerRec.Body.String())
	assert.False(t, b.InFlight())
}

func TestHoldNext_PreemptsOlderConnection(t *testing.T) {
	b := New(nil)

	oldRec := httptest.NewRecorder()
	old := NewConn(oldRec)
	b.HoldNext(old)

	replacement := NewConn(httptest.NewRecorder())
	b.HoldNext(replacement)

	require.True(t, isDone(old))
	assert.Equal(t, http.StatusServiceUnavailable, oldRec.Code)
	assert.JSONEq(t, `{"error":"Another runtime connected"}`, oldRec.Body.String())
	assert.False(t, isDone(replacement))

	// The replacement receives the next trigger.
	_, err := b.Trigger("fn", nil, testContext(), NewConn(httptest.NewRecorder()), "s")
	require.NoError(t, err)
	assert.True(t, isDone(replacement))
}

func TestHoldNext_WhileInvoking(t *testing.T) {
	b := New(nil)
	b.HoldNext(NewConn(httptest.NewRecorder()))

	callerRec := httptest.NewRecorder()
	id, err := b.Trigger("fn", nil, testContext(), NewConn(callerRec), "s")
	require.NoError(t, err)

	// The runtime starts polling again before posting the outcome.
	nextRec := httptest.NewRecorder()
	next := NewConn(nextRec)
	b.HoldNext(next)

	// Outcome of the first invocation is unaffected.
	require.True(t, b.CompleteSuccess(id, json.RawMessage(`{"n":1}`)))
	assert.JSONEq(t, `{"n":1}`, callerRec.Body.String())
	assert.False(t, isDone(next))

	// A fresh trigger consumes the parked next connection.
	_, err = b.Trigger("fn", nil, testContext(), NewConn(httptest.NewRecorder()), "s2")
	require.NoError(t, err)
	assert.True(t, isDone(next))
}

func TestDropNext(t *testing.T) {
	b := New(nil)
	conn := NewConn(httptest.NewRecorder())
	b.HoldNext(conn)
	b.DropNext(conn)

	_, err := b.Trigger("fn", nil, testContext(), NewConn(httptest.NewRecorder()), "s")
	assert.ErrorIs(t, err, ErrNoRuntime)
}

func TestDropNext_IgnoresStaleConnection(t *testing.T) {
	b := New(nil)
	old := NewConn(httptest.NewRecorder())
	b.HoldNext(old)
	current := NewConn(httptest.NewRecorder())
	b.HoldNext(current)

	// The preempted poller's handler races its cleanup against the new hold.
	b.DropNext(old)

	_, err := b.Trigger("fn", nil, testContext(), NewConn(httptest.NewRecorder()), "s")
	assert.NoError(t, err)
}

func TestAbandonInvoke(t *testing.T) {
	b := New(nil)
	b.HoldNext(NewConn(httptest.NewRecorder()))

	caller := NewConn(httptest.NewRecorder())
	id, err := b.Trigger("fn", nil, testContext(), caller, "s")
	require.NoError(t, err)

	assert.True(t, b.AbandonInvoke(caller))
	assert.False(t, b.InFlight())

	// A late outcome post for the abandoned invocation is rejected.
	assert.False(t, b.CompleteSuccess(id, json.RawMessage(`{}`)))
}

func TestAbandonInvoke_AfterCompletion(t *testing.T) {
	b := New(nil)
	b.HoldNext(NewConn(httptest.NewRecorder()))

	caller := NewConn(httptest.NewRecorder())
	id, err := b.Trigger("fn", nil, testContext(), caller, "s")
	require.NoError(t, err)
	require.True(t, b.CompleteSuccess(id, json.RawMessage(`{}`)))

	assert.False(t, b.AbandonInvoke(caller))
}

func TestTimeout(t *testing.T) {
	b := New(nil)
	b.SetDeadline(20 * time.Millisecond)

	cleanedUp := make(chan string, 1)
	b.SetSessionCleanupCallback(func(sessionID string) {
		cleanedUp <- sessionID
	})

	b.HoldNext(NewConn(httptest.NewRecorder()))
	callerRec := httptest.NewRecorder()
	caller := NewConn(callerRec)
	id, err := b.Trigger("fn", nil, testContext(), caller, "sess-42")
	require.NoError(t, err)

	select {
	case <-caller.Done():
	case <-time.After(time.Second):
		t.Fatal("caller was not completed by the deadline timer")
	}

	assert.Equal(t, http.StatusGatewayTimeout, callerRec.Code)
	assert.JSONEq(t, `{"error":"Invocation timed out"}`, callerRec.Body.String())
	select {
	case id := <-cleanedUp:
		assert.Equal(t, "sess-42", id)
	case <-time.After(time.Second):
		t.Fatal("session cleanup callback was not invoked")
	}
	assert.False(t, b.InFlight())

	// The runtime's late outcome post finds nothing to match.
	assert.False(t, b.CompleteSuccess(id, json.RawMessage(`{}`)))
}

func TestOnRuntimeConnect_FiresOnce(t *testing.T) {
	b := New(nil)
	calls := 0
	b.SetOnRuntimeConnect(func() { calls++ })

	b.HoldNext(NewConn(httptest.NewRecorder()))
	b.HoldNext(NewConn(httptest.NewRecorder()))
	b.HoldNext(NewConn(httptest.NewRecorder()))

	assert.Equal(t, 1, calls)
}
