// Package health serves the liveness and readiness probes for the voice
// server.
//
//   - /healthz — liveness; a process that can answer HTTP is alive.
//   - /readyz  — readiness; 200 only while every registered [Checker]
//     passes. The load balancer stops routing new calls to an instance
//     whose config went bad or whose primary synthesizer breaker opened,
//     without tearing down the calls it is already holding.
//
// Both respond with JSON: a top-level "status" ("ok" or "fail") and, for
// readiness, a "checks" map with one line per checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout caps one readiness check. A probe that hangs must not hold
// the load balancer's health poll hostage.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe. Check returns nil when the
// dependency can serve a call and an error describing why not otherwise.
type Checker struct {
	// Name keys the check's line in the JSON response.
	Name string

	// Check probes the dependency. It must respect ctx cancellation.
	Check func(ctx context.Context) error
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction, so the zero-allocation read path is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given checkers. They run in order on every
// readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, "ok", nil)
}

// Readyz runs every checker under a [checkTimeout] deadline and answers
// 503 when any fails, with the per-check outcomes in the body.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	status := http.StatusOK
	overall := "ok"

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			overall = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	h.respond(w, status, overall, checks)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) respond(w http.ResponseWriter, status int, overall string, checks map[string]string) {
	body := struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks,omitempty"`
	}{Status: overall, Checks: checks}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
