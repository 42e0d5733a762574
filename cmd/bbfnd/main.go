// bbfnd is the local development server for browserbase functions.
// It bridges external invoke calls to a handler process speaking the
// Lambda-compatible runtime protocol, provisioning a browser session per
// invocation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/browserbase/functions/internal/api"
	"github.com/browserbase/functions/internal/bridge"
	"github.com/browserbase/functions/internal/config"
	"github.com/browserbase/functions/internal/manifest"
	"github.com/browserbase/functions/internal/session"
)

// validateEnv checks that critical environment variables have valid values.
// Returns a slice of validation errors (empty if all valid).
func validateEnv() []string {
	var errs []string

	if addr := os.Getenv("BBF_LISTEN_ADDR"); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Sprintf("BBF_LISTEN_ADDR=%q: must be host:port (%v)", addr, err))
		}
	}

	if v := os.Getenv("BBF_INVOKE_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Sprintf("BBF_INVOKE_TIMEOUT=%q: must be a valid Go duration (e.g. 5m) (%v)", v, err))
		}
	}

	return errs
}

func main() {
	// Credentials live in .env for parity with the hosted tooling; absence
	// is fine.
	_ = godotenv.Load()

	// Context-aware slog handler so request_id lands in every record logged
	// with a request context.
	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(api.NewContextHandler(baseHandler))
	slog.SetDefault(logger)

	if errs := validateEnv(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid environment variable", "error", e)
		}
		os.Exit(1)
	}

	// Config: BBF_CONFIG env > ./bbf.yaml > defaults.
	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if configPath != "" {
		slog.Info("config loaded", "path", configPath)
	}

	// Env overrides on top of the file.
	if addr := os.Getenv("BBF_LISTEN_ADDR"); addr != "" {
		cfg.Listen = addr
	}
	if dir := os.Getenv("BB_FUNCTIONS_MANIFESTS_DIR"); dir != "" {
		cfg.ManifestsDir = dir
	}
	if v := os.Getenv("BBF_INVOKE_TIMEOUT"); v != "" {
		cfg.InvokeTimeout = v
	}
	if corsEnv := os.Getenv("BBF_CORS_ORIGINS"); corsEnv != "" {
		cfg.CORSOrigins = strings.Split(corsEnv, ",")
	}

	// Manifest store: the missing-directory case is expected on first run,
	// before the handler process has introspected.
	manifestsDir := cfg.ManifestsDir
	if manifestsDir == "" {
		manifestsDir = manifest.DefaultDir()
	}
	store := manifest.NewStore(manifestsDir, logger)
	if err := store.Load(); err != nil {
		slog.Error("failed to load manifests", "dir", manifestsDir, "error", err)
		os.Exit(1)
	}

	// Session provider: hosted Browserbase when an API key is configured,
	// else a local stub fabricating CDP URLs.
	var sessions api.SessionProvider
	if apiKey := os.Getenv("BROWSERBASE_API_KEY"); apiKey != "" {
		apiURL := cfg.Browserbase.APIURL
		if v := os.Getenv("BROWSERBASE_API_URL"); v != "" {
			apiURL = v
		}
		projectID := cfg.Browserbase.ProjectID
		if v := os.Getenv("BROWSERBASE_PROJECT_ID"); v != "" {
			projectID = v
		}
		sessions = session.NewBrowserbase(session.BrowserbaseConfig{
			APIURL:    apiURL,
			APIKey:    apiKey,
			ProjectID: projectID,
		})
		slog.Info("browserbase session provider initialized", "project_id", projectID)
	} else {
		sessions = session.NewLocal()
		slog.Warn("BROWSERBASE_API_KEY not set, using local session stub — sessions will not connect to real browsers")
	}

	br := bridge.New(logger)
	br.SetDeadline(cfg.Deadline())
	// Manifests written by the handler's introspect pass may postdate our
	// startup load; re-read them when the runtime first connects.
	br.SetOnRuntimeConnect(func() {
		if err := store.Reload(); err != nil {
			slog.Warn("manifest reload after runtime connect failed", "error", err)
		} else {
			slog.Info("manifests reloaded after runtime connect", "functions", store.Len())
		}
	})

	srv := &api.Server{
		Bridge:      br,
		Manifests:   store,
		Sessions:    sessions,
		CORSOrigins: cfg.CORSOrigins,
	}
	router := api.NewRouter(srv)

	// WriteTimeout stays 0: the long-poll and held-invoke endpoints keep
	// connections open up to the invoke deadline, which is configurable.
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	slog.Info("starting bbfnd", "addr", cfg.Listen, "invoke_timeout", cfg.InvokeTimeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	// Graceful shutdown: drain HTTP connections. Held long-polls count as
	// active connections, so the timeout is short; a waiting runtime will
	// simply reconnect to the next server instance.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("bbfnd shutdown complete")
}
