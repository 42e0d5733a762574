// Package api provides the HTTP surface of the functions dev server: the
// external invoke endpoint, the Lambda-compatible runtime protocol
// endpoints, and a liveness probe.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/browserbase/functions/internal/bridge"
	"github.com/browserbase/functions/internal/domain"
)

// maxJSONBodySize is the maximum size for JSON request bodies (10MB).
// Invocation params and handler results can carry extracted page content,
// so the cap is looser than a typical CRUD API's.
const maxJSONBodySize = 10 << 20

// sessionReleaseTimeout bounds the release call issued after an invocation
// terminates. Release runs on a fresh context because the caller's request
// context is usually already done by then.
const sessionReleaseTimeout = 10 * time.Second

// ManifestStore supplies per-function configuration to the invoke path.
// Implemented by the manifest package.
type ManifestStore interface {
	Get(name string) (domain.Manifest, bool)
	Len() int
	Reload() error
}

// SessionProvider provisions and releases browser sessions. Implemented by
// the session package's Browserbase and Local providers.
type SessionProvider interface {
	Create(ctx context.Context, config map[string]any) (*domain.Session, error)
	Release(ctx context.Context, id string) error
}

// Server holds dependencies for all API handlers.
type Server struct {
	Bridge    *bridge.Bridge
	Manifests ManifestStore
	Sessions  SessionProvider

	// CORSOrigins defaults to ["*"]: the dev server is called from
	// arbitrary local tooling and browser origins.
	CORSOrigins []string
}

// ErrorBody is the JSON envelope for client-visible failures. Handler
// failures use a different shape, {"error": {message, type, stackTrace}},
// written by the bridge on the held invoke connection.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// errorJSON writes the structured error envelope.
func errorJSON(w http.ResponseWriter, status int, errMsg, message string) {
	writeJSON(w, status, ErrorBody{Error: errMsg, Message: message})
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// limitJSONBody caps request body size.
func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter creates a configured chi router with all endpoints mounted.
func NewRouter(srv *Server) chi.Router {
	r := chi.NewRouter()

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))
	r.Use(RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(limitJSONBody)

	// Liveness.
	r.Get("/", srv.HandleHealth)

	// External caller side.
	r.Post("/v1/functions/{name}/invoke", srv.HandleInvoke)

	// Runtime side. The date prefix follows the AWS Lambda runtime
	// interface so off-the-shelf runtime clients work unchanged.
	r.Get("/2018-06-01/runtime/invocation/next", srv.HandleNext)
	r.Post("/2018-06-01/runtime/invocation/{requestId}/response", srv.HandleResponse)
	r.Post("/2018-06-01/runtime/invocation/{requestId}/error", srv.HandleError)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})

	return r
}
