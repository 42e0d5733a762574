package api

import "net/http"

// HandleHealth implements GET /.
// Liveness probe for SDK clients polling for server readiness. Returns
// {"ok": true} with no dependency checks: the server holds no external
// connections at rest, so being up means being ready.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
