package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Checker reports the health of one dependency
type Checker func(ctx context.Context) error

// HealthHandler serves GET /health
type HealthHandler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration
}

// NewHealthHandler creates a health handler with no dependencies registered
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{checkers: make(map[string]Checker), timeout: 3 * time.Second}
}

// Register adds a named dependency check
func (h *HealthHandler) Register(name string, check Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = check
}

type healthResponse struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	resp := healthResponse{OK: true}
	for _, name := range names {
		h.mu.RLock()
		check := h.checkers[name]
		h.mu.RUnlock()

		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(names))
		}
		if err := check(ctx); err != nil {
			resp.OK = false
			resp.Checks[name] = "down"
			continue
		}
		resp.Checks[name] = "up"
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}
