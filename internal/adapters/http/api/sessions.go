package api

import (
	"net/http"
	"strings"

	"github.com/okian/keyprint/internal/domain/model"
	"github.com/okian/keyprint/internal/domain/types"
)

type startRequest struct {
	Identity string        `json:"identity"`
	Purpose  types.Purpose `json:"purpose"`
}

type startResponse struct {
	SessionID string        `json:"session_id"`
	Identity  string        `json:"identity"`
	Purpose   types.Purpose `json:"purpose"`
}

type eventsRequest struct {
	BatchID string        `json:"batch_id"`
	Events  []model.Event `json:"events"`
}

type eventsResponse struct {
	Status    string `json:"status"`
	Accepted  int    `json:"accepted"`
	Dropped   int    `json:"dropped"`
	Duplicate bool   `json:"duplicate"`
}

type assessRequest struct {
	Device model.DeviceSignal `json:"device"`
}

type enrollRequest struct {
	Device model.DeviceSignal `json:"device"`
	Reset  bool               `json:"reset"`
}

// SessionsHandler handles the capture and decision endpoints.
type SessionsHandler struct {
	deps Dependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps Dependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

// HandleStart handles POST /sessions.
func (h *SessionsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.start_session"
	var req startRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	req.Identity = strings.TrimSpace(req.Identity)
	if req.Purpose == "" {
		req.Purpose = types.PurposeLive
	}

	id, err := h.deps.StartSession(r.Context(), req.Identity, req.Purpose)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{SessionID: id, Identity: req.Identity, Purpose: req.Purpose})
}

// HandleEvents handles POST /sessions/{id}/events. Malformed events inside
// a well-formed batch are counted as dropped, not rejected.
func (h *SessionsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.record_events"
	var req eventsRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	sum, err := h.deps.RecordEvents(r.Context(), r.PathValue("id"), req.BatchID, req.Events)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := "accepted"
	if sum.Duplicate {
		status = "duplicate"
	}
	writeJSON(w, http.StatusAccepted, eventsResponse{
		Status:    status,
		Accepted:  sum.Accepted,
		Dropped:   sum.Dropped,
		Duplicate: sum.Duplicate,
	})
}

// HandleAssess handles POST /sessions/{id}/assess.
func (h *SessionsHandler) HandleAssess(w http.ResponseWriter, r *http.Request) {
	const op = "api.assess"
	var req assessRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.deps.Assess(r.Context(), r.PathValue("id"), req.Device)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleEnroll handles POST /sessions/{id}/enroll.
func (h *SessionsHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	const op = "api.enroll"
	var req enrollRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	res, err := h.deps.Enroll(r.Context(), r.PathValue("id"), req.Device, req.Reset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
