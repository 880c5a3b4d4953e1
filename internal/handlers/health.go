package handlers

import (
	"context"
	"net/http"
	"time"

	"membership-manager/internal/common/logging"
)

// Health probes every dependency and answers 503 when any is down
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.health))
	for _, c := range h.health {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = "unhealthy"
			status = http.StatusServiceUnavailable
			h.logger.Warn("Health check failed", logging.String("check", c.Name), logging.Err(err))
			continue
		}
		checks[c.Name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	body := map[string]interface{}{
		"status":    overall,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	}
	if queue, ok := h.queueDepth(ctx); ok {
		body["queue"] = queue
	}
	writeJSON(w, status, body)
}

// queueDepth is informational; a failure here is already covered by the
// redis check
func (h *Handlers) queueDepth(ctx context.Context) (map[string]int64, bool) {
	if h.queueStats == nil {
		return nil, false
	}
	pending, err := h.queueStats.Pending(ctx)
	if err != nil {
		return nil, false
	}
	dead, err := h.queueStats.DeadLetters(ctx)
	if err != nil {
		return nil, false
	}
	return map[string]int64{"pending": pending, "dead": dead}, true
}
