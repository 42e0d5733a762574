package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/browserbase/functions/internal/bridge"
	"github.com/browserbase/functions/internal/domain"
	"github.com/browserbase/functions/internal/registry"
)

// systemErrorBackoff is how long the local-mode loop pauses after a system
// error before polling again, so a down bridge does not spin the CPU.
const systemErrorBackoff = time.Second

// outcomePostTimeout bounds the response/error POST back to the bridge.
const outcomePostTimeout = 30 * time.Second

// Worker is the single-threaded cooperative driver on the handler side:
// blocking GET on the bridge's next endpoint, dispatch into the registry,
// POST of the result or normalized error, loop forever.
//
// Failures split into user errors (the handler failed — reported to the
// bridge's error endpoint, loop continues) and system errors (the loop
// itself cannot make progress — fatal in production, logged-and-retried in
// local).
type Worker struct {
	cfg Config
	reg *registry.Registry
	log *slog.Logger

	// pollClient has no timeout: the next GET blocks until work arrives.
	pollClient *http.Client
	// postClient bounds outcome posts.
	postClient *http.Client
}

// NewWorker creates a runtime loop worker over the given registry.
func NewWorker(cfg Config, reg *registry.Registry, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		cfg:        cfg,
		reg:        reg,
		log:        log,
		pollClient: &http.Client{},
		postClient: &http.Client{Timeout: outcomePostTimeout},
	}
}

// Run executes the polling loop until ctx is cancelled. In the production
// environment the first system error is returned (the process should exit
// and be recycled); in local mode system errors are logged and the loop
// continues after a short backoff.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("runtime loop started", "bridge", w.cfg.RuntimeAPI, "functions", w.reg.Len())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if w.cfg.Production() {
				return fmt.Errorf("runtime loop: %w", err)
			}
			w.log.Error("system error, continuing", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(systemErrorBackoff):
			}
		}
	}
}

// runOnce performs one poll/execute/report iteration. A returned error is a
// system error; user errors are reported inside and return nil.
func (w *Worker) runOnce(ctx context.Context) error {
	requestID, event, err := w.next(ctx)
	if err != nil {
		return err
	}

	w.log.Info("invocation received", "function", event.FunctionName, "request_id", requestID)

	result, execErr := w.execute(ctx, event)
	if execErr != nil {
		if isSystemError(execErr) {
			return execErr
		}
		rerr := normalizeExecError(execErr)
		if err := w.postError(ctx, requestID, rerr); err != nil {
			return err
		}
		w.log.Warn("handler failed", "function", event.FunctionName, "request_id", requestID,
			"error_type", rerr.ErrorType, "error", rerr.ErrorMessage)
		return nil
	}

	if err := w.postResponse(ctx, requestID, result); err != nil {
		return err
	}
	w.log.Info("invocation completed", "function", event.FunctionName, "request_id", requestID)
	return nil
}

// next blocks on the bridge's next endpoint until an invocation arrives,
// returning the request id from the runtime headers and the parsed event.
func (w *Worker) next(ctx context.Context) (string, *domain.EventPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		w.cfg.BaseURL()+"/2018-06-01/runtime/invocation/next", nil)
	if err != nil {
		return "", nil, fmt.Errorf("build next request: %w", err)
	}

	resp, err := w.pollClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("poll next: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read next response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("poll next: unexpected status %s: %s", resp.Status, string(body))
	}

	var event domain.EventPayload
	if err := json.Unmarshal(body, &event); err != nil {
		return "", nil, fmt.Errorf("parse invocation event: %w", err)
	}
	if event.FunctionName == "" {
		return "", nil, fmt.Errorf("parse invocation event: missing functionName")
	}

	requestID := resp.Header.Get(bridge.HeaderRequestID)
	if requestID == "" {
		return "", nil, fmt.Errorf("invocation event missing %s header", bridge.HeaderRequestID)
	}
	return requestID, &event, nil
}

// execute dispatches the event into the registry, converting handler panics
// into user errors carrying the recovered stack.
func (w *Worker) execute(ctx context.Context, event *domain.EventPayload) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			rerr := Normalize(r)
			if rerr.ErrorType == unknownErrorType {
				rerr.ErrorType = "Panic"
			}
			rerr.StackTrace = splitStack(string(debug.Stack()))
			err = &panicError{rerr: rerr}
		}
	}()
	return w.reg.Execute(ctx, event.FunctionName, event.Context, event.Params)
}

// panicError carries an already-normalized runtime error from a recovered
// handler panic through the execute return path.
type panicError struct {
	rerr domain.RuntimeError
}

func (p *panicError) Error() string { return p.rerr.ErrorMessage }

// isSystemError classifies execution failures. A function missing from the
// registry means the control plane and the handler process disagree about
// what is deployed — that is not a user error.
func isSystemError(err error) bool {
	return errors.Is(err, registry.ErrFunctionNotFound)
}

// normalizeExecError maps an execution failure to the wire error shape.
func normalizeExecError(err error) domain.RuntimeError {
	var pe *panicError
	if errors.As(err, &pe) {
		return pe.rerr
	}
	if errors.Is(err, registry.ErrInvalidParams) {
		rerr := Normalize(err)
		rerr.ErrorType = "InvalidParametersError"
		return rerr
	}
	return Normalize(err)
}

// postResponse reports a successful result for requestID.
func (w *Worker) postResponse(ctx context.Context, requestID string, result any) error {
	if result == nil {
		result = map[string]any{}
	}
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return w.post(ctx, fmt.Sprintf("/2018-06-01/runtime/invocation/%s/response", requestID), body)
}

// postError reports a normalized handler failure for requestID.
func (w *Worker) postError(ctx context.Context, requestID string, rerr domain.RuntimeError) error {
	body, err := json.Marshal(rerr)
	if err != nil {
		return fmt.Errorf("marshal runtime error: %w", err)
	}
	return w.post(ctx, fmt.Sprintf("/2018-06-01/runtime/invocation/%s/error", requestID), body)
}

// post sends one outcome POST and requires a 2xx acknowledgement.
func (w *Worker) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.BaseURL()+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build outcome request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.postClient.Do(req)
	if err != nil {
		return fmt.Errorf("post outcome: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post outcome %s: unexpected status %s: %s", path, resp.Status, string(detail))
	}
	return nil
}
