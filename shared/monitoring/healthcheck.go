package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Pinger is a dependency whose reachability gates health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health serves the health and status endpoints.
type Health struct {
	monitor *Monitor
	store   Pinger
	timeout time.Duration
}

func NewHealth(monitor *Monitor, store Pinger) *Health {
	return &Health{
		monitor: monitor,
		store:   store,
		timeout: 2 * time.Second,
	}
}

// HealthHandler answers 200 when the store is reachable and the last run did
// not fail critically.
func (h *Health) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "Service unhealthy - store unreachable: %v", err)
			return
		}
	}

	if h.monitor.IsHealthy() {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK - %s", h.monitor.GetStatusSummary())
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "Service unhealthy - %s", h.monitor.GetStatusSummary())
	}
}

func (h *Health) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(h.monitor.Snapshot())
}
