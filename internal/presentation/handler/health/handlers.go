package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/slotline/courtqueue/internal/infrastructure/json"
)

const probeTimeout = 2 * time.Second

var (
	startTime       = time.Now()
	healthy   int32 = 1 // 1: healthy, 0 = unhealthy
)

// Probe checks a single dependency, returning an error when it is unreachable.
type Probe func(ctx context.Context) error

type Handler struct {
	probes map[string]Probe
}

func NewHandler(probes map[string]Probe) *Handler {
	return &Handler{probes: probes}
}

// SetUnhealthy marks the service unhealthy, flipping readiness responses to 503.
func SetUnhealthy() {
	atomic.StoreInt32(&healthy, 0)
}

// GetHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API, including uptime, current timestamp and per-dependency probe results
// @Tags         health
// @Produce      json
// @Success      200 {object} healthResponse "Service is healthy"
// @Failure      503 {object} healthResponse "Service is unhealthy"
// @Router       /health [get]
// @Router       /healthz [get]
// @Router       /ready [get]
// @Router       /live [get]
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	overall := "ok"

	if atomic.LoadInt32(&healthy) == 0 {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	checks := make(map[string]string, len(h.probes))
	for name, probe := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		if err := probe(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		} else {
			checks[name] = "ok"
		}
		cancel()
	}

	json.Write(w, status, healthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Checks:    checks,
	})
}
