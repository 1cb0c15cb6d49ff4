package api

import (
	"net/http"
)

// StatsProvider reports service counters by name.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatsHandler serves a snapshot of the service counters.
type StatsHandler struct {
	statsProvider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(statsProvider StatsProvider) *StatsHandler {
	return &StatsHandler{statsProvider: statsProvider}
}

// HandleStats handles GET /stats. Repeated key parameters narrow the
// snapshot to those counters; unknown keys are omitted.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats := h.statsProvider.GetStats()
	if keys := r.URL.Query()["key"]; len(keys) > 0 {
		picked := make(map[string]interface{}, len(keys))
		for _, k := range keys {
			if v, ok := stats[k]; ok {
				picked[k] = v
			}
		}
		stats = picked
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, stats)
}
