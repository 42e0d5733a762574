package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/browserbase/functions/internal/bridge"
	"github.com/browserbase/functions/internal/domain"
)

// invokeRequest is the external caller's body. Both fields are optional:
// params defaults to an empty object, and context is normally constructed by
// the server (callers supply one to replay a recorded invocation).
type invokeRequest struct {
	Params  map[string]any            `json:"params"`
	Context *domain.InvocationContext `json:"context"`
}

// HandleInvoke implements POST /v1/functions/{name}/invoke.
//
// The handler owns the browser session's lifetime: it acquires the session
// before triggering the bridge and releases it exactly once after the wait
// completes, on every terminal path including caller disconnect and deadline
// timeout. The success and handler-error responses are written by the bridge
// on this handler's ResponseWriter; the handler returns only after that write
// has happened.
func (s *Server) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	logger := LoggerFromContext(r.Context())
	name := chi.URLParam(r, "name")

	// Passthrough auth: the header is forwarded to nothing and never
	// interpreted here.
	if r.Header.Get("Authorization") != "" {
		logger.Debug("authorization header present on invoke, passing through")
	}

	var req invokeRequest
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorJSON(w, http.StatusBadRequest, "Bad Request", "failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			errorJSON(w, http.StatusBadRequest, "Bad Request", "request body must be a JSON object")
			return
		}
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	manifest, ok := s.Manifests.Get(name)
	if !ok {
		errorJSON(w, http.StatusNotFound, "Not Found", "Function not found in registry")
		return
	}

	sessionConfig := manifest.Config.SessionConfig
	if sessionConfig == nil {
		sessionConfig = map[string]any{}
	}
	session, err := s.Sessions.Create(r.Context(), sessionConfig)
	if err != nil {
		logger.Error("session creation failed", "function", name, "error", err)
		errorJSON(w, http.StatusInternalServerError, "Failed to create browser session", err.Error())
		return
	}

	// From here on the session is released exactly once, whatever happens.
	// A fresh context is used because the request context is already
	// canceled on the disconnect and timeout paths.
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), sessionReleaseTimeout)
		defer cancel()
		if err := s.Sessions.Release(ctx, session.ID); err != nil {
			logger.Warn("session release failed", "session_id", session.ID, "error", err)
		}
	}()

	ictx := req.Context
	if ictx == nil {
		ictx = &domain.InvocationContext{
			Invocation: &domain.InvocationInfo{
				ID:     uuid.NewString(),
				Region: "local",
			},
		}
	}
	// The session always reflects what this server just provisioned, even
	// when the caller supplied its own context.
	ictx.Session = session

	conn := bridge.NewConn(w)
	requestID, err := s.Bridge.Trigger(name, req.Params, ictx, conn, session.ID)
	if err != nil {
		switch {
		case errors.Is(err, bridge.ErrBusy):
			errorJSON(w, http.StatusServiceUnavailable, "Service Unavailable", "Another invocation is in progress")
		case errors.Is(err, bridge.ErrNoRuntime):
			errorJSON(w, http.StatusServiceUnavailable, "Service Unavailable", "No runtime connected")
		default:
			errorJSON(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		}
		return
	}

	select {
	case <-conn.Done():
		// Outcome written by the bridge (success, handler error, or
		// deadline timeout).
	case <-r.Context().Done():
		if s.Bridge.AbandonInvoke(conn) {
			logger.Warn("invoke caller disconnected before completion",
				"function", name, "bridge_request_id", requestID)
		}
		// If AbandonInvoke returned false the outcome raced the
		// disconnect and was already written under the bridge lock.
	}
}
