package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker probes one dependency.
type Checker func(ctx context.Context) error

// Status of a component or the service overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Response is the body of the health endpoints.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult reports one dependency's probe outcome.
type CheckResult struct {
	Status   Status `json:"status"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
}

// Handler serves liveness and readiness over HTTP. Critical checks gate
// readiness; non-critical ones only degrade the reported status.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	critical map[string]bool
}

func NewHandler() *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		critical: make(map[string]bool),
	}
}

// Register adds a checker. Registered checks are critical by default.
func (h *Handler) Register(name string, checker Checker) {
	h.RegisterCritical(name, checker)
}

// RegisterCritical adds a checker whose failure makes readiness return 503.
func (h *Handler) RegisterCritical(name string, checker Checker) {
	h.register(name, checker, true)
}

// RegisterNonCritical adds a checker whose failure degrades the status but
// keeps the service ready.
func (h *Handler) RegisterNonCritical(name string, checker Checker) {
	h.register(name, checker, false)
}

func (h *Handler) register(name string, checker Checker, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
	h.critical[name] = critical
}

// LivenessHandler answers 200 whenever the process can serve HTTP at all.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(Response{
			Status:    StatusUp,
			Timestamp: time.Now().UTC(),
		})
	}
}

// runChecks probes every registered dependency and folds the results into
// an overall status.
func (h *Handler) runChecks(ctx context.Context) (Status, map[string]CheckResult) {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	critical := make(map[string]bool, len(h.critical))
	for name, c := range h.checkers {
		checkers[name] = c
		critical[name] = h.critical[name]
	}
	h.mu.RUnlock()

	overall := StatusUp
	checks := make(map[string]CheckResult, len(checkers))

	for name, checker := range checkers {
		err := checker(ctx)
		if err == nil {
			checks[name] = CheckResult{Status: StatusUp, Critical: critical[name]}
			continue
		}

		checks[name] = CheckResult{Status: StatusDown, Critical: critical[name], Error: err.Error()}
		switch {
		case critical[name]:
			overall = StatusDown
		case overall == StatusUp:
			overall = StatusDegraded
		}
	}

	return overall, checks
}

// ReadinessHandler probes all dependencies and answers 200 unless a
// critical one is down.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		overall, checks := h.runChecks(ctx)

		w.Header().Set("Content-Type", "application/json")
		if overall == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(Response{
			Status:    overall,
			Timestamp: time.Now().UTC(),
			Checks:    checks,
		})
	}
}
