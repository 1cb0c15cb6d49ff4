package api

import (
	"net/http"
)

// BaselinesHandler exposes stored baselines.
type BaselinesHandler struct {
	deps Dependencies
}

// NewBaselinesHandler creates a new baselines handler.
func NewBaselinesHandler(deps Dependencies) *BaselinesHandler {
	return &BaselinesHandler{deps: deps}
}

// HandleGet handles GET /baselines/{identity}.
func (h *BaselinesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	b, err := h.deps.Baseline(r.Context(), r.PathValue("identity"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// HandleDelete handles DELETE /baselines/{identity}.
func (h *BaselinesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DeleteBaseline(r.Context(), r.PathValue("identity")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
