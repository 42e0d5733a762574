package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/browserbase/functions/internal/bridge"
	"github.com/browserbase/functions/internal/domain"
)

// HandleNext implements GET /2018-06-01/runtime/invocation/next.
//
// The runtime's long poll. The connection is held open until an external
// invoke is triggered (the bridge then writes the invocation payload with the
// Lambda-Runtime headers) or the runtime disconnects. A newer poll from a
// restarted runtime preempts this one with a 503.
func (s *Server) HandleNext(w http.ResponseWriter, r *http.Request) {
	conn := bridge.NewConn(w)
	s.Bridge.HoldNext(conn)

	select {
	case <-conn.Done():
		// Triggered or preempted; the bridge wrote the response.
	case <-r.Context().Done():
		s.Bridge.DropNext(conn)
	}
}

// HandleResponse implements POST /2018-06-01/runtime/invocation/{requestId}/response.
//
// The body is the handler's result, forwarded verbatim to the held external
// caller. An empty body stands for an empty object result.
func (s *Server) HandleResponse(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "Bad Request", "failed to read request body")
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		errorJSON(w, http.StatusBadRequest, "Bad Request", "result body must be valid JSON")
		return
	}

	if !s.Bridge.CompleteSuccess(requestID, body) {
		errorJSON(w, http.StatusBadRequest, "Bad Request", "requestId does not match the active invocation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HandleError implements POST /2018-06-01/runtime/invocation/{requestId}/error.
//
// The body must be a well-formed RuntimeError; the bridge reshapes it into
// the caller-facing {"error": {message, type, stackTrace}} envelope.
func (s *Server) HandleError(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	var rerr domain.RuntimeError
	if err := json.NewDecoder(r.Body).Decode(&rerr); err != nil {
		errorJSON(w, http.StatusBadRequest, "Bad Request", "error body must be a JSON object")
		return
	}
	if rerr.ErrorMessage == "" || rerr.ErrorType == "" {
		errorJSON(w, http.StatusBadRequest, "Bad Request", "errorMessage and errorType are required")
		return
	}
	if rerr.StackTrace == nil {
		rerr.StackTrace = []string{}
	}

	if !s.Bridge.CompleteError(requestID, rerr) {
		errorJSON(w, http.StatusBadRequest, "Bad Request", "requestId does not match the active invocation")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
