package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_PreservesUnknownFields(t *testing.T) {
	in := []byte(`{
		"id": "sess-1",
		"connectUrl": "wss://connect.test/sess-1",
		"status": "RUNNING",
		"proxyBytes": 1024
	}`)

	var s Session
	require.NoError(t, json.Unmarshal(in, &s))
	assert.Equal(t, "sess-1", s.ID)
	assert.Equal(t, "wss://connect.test/sess-1", s.ConnectURL)
	assert.Equal(t, "RUNNING", s.Extra["status"])

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))
}

func TestInvocationContext_PreservesUnknownFields(t *testing.T) {
	in := []byte(`{
		"invocation": {"id": "inv-1", "region": "local"},
		"session": {"id": "sess-1", "connectUrl": "wss://x"},
		"traceId": "trace-9"
	}`)

	var c InvocationContext
	require.NoError(t, json.Unmarshal(in, &c))
	require.NotNil(t, c.Invocation)
	assert.Equal(t, "inv-1", c.Invocation.ID)
	require.NotNil(t, c.Session)
	assert.Equal(t, "sess-1", c.Session.ID)
	assert.Equal(t, "trace-9", c.Extra["traceId"])

	out, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))
}

func TestInvocationContext_OmitsAbsentFields(t *testing.T) {
	out, err := json.Marshal(InvocationContext{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(out))
}
