package jobs

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tradiehub/internal/apperr"
	myMiddleware "tradiehub/internal/middleware"
	"tradiehub/internal/participant"
)

type Handler struct {
	workflow *Workflow
}

func NewHandler(workflow *Workflow) *Handler {
	return &Handler{workflow: workflow}
}

func caller(w http.ResponseWriter, r *http.Request) (participant.Participant, bool) {
	p, ok := myMiddleware.ParticipantFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return p, ok
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		apperr.WriteError(w, fmt.Errorf("%w: invalid %s", apperr.ErrValidation, name))
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apperr.WriteError(w, fmt.Errorf("%w: %v", apperr.ErrValidation, err))
		return false
	}
	return true
}

// CreateOffer handles POST /api/jobs.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	var req CreateOfferRequest
	if !decode(w, r, &req) {
		return
	}
	offer, err := h.workflow.CreateOffer(r.Context(), p, &req)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, offer)
}

// GetOffer handles GET /api/jobs/{jobID}.
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	jobID, ok := idParam(w, r, "jobID")
	if !ok {
		return
	}
	offer, err := h.workflow.GetOffer(r.Context(), jobID)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, offer)
}

// CancelOffer handles POST /api/jobs/{jobID}/cancel.
func (h *Handler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	jobID, ok := idParam(w, r, "jobID")
	if !ok {
		return
	}
	if err := h.workflow.CancelOffer(r.Context(), p, jobID); err != nil {
		apperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Apply handles POST /api/jobs/{jobID}/apply.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	jobID, ok := idParam(w, r, "jobID")
	if !ok {
		return
	}
	var req ApplyRequest
	if !decode(w, r, &req) {
		return
	}
	app, err := h.workflow.Apply(r.Context(), jobID, p, &req)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, app)
}

// ListApplications handles GET /api/jobs/{jobID}/applications.
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	jobID, ok := idParam(w, r, "jobID")
	if !ok {
		return
	}
	apps, err := h.workflow.ListApplications(r.Context(), p, jobID)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	if apps == nil {
		apps = []*Application{}
	}
	apperr.WriteJSON(w, http.StatusOK, apps)
}

// Decide handles PUT /api/jobs/{jobID}/applications/{applicationID}.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	jobID, ok := idParam(w, r, "jobID")
	if !ok {
		return
	}
	applicationID, ok := idParam(w, r, "applicationID")
	if !ok {
		return
	}
	var req DecideRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.workflow.Decide(r.Context(), p, jobID, applicationID, req.Status)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, res)
}

// Withdraw handles POST /api/applications/{applicationID}/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	p, ok := caller(w, r)
	if !ok {
		return
	}
	applicationID, ok := idParam(w, r, "applicationID")
	if !ok {
		return
	}
	app, err := h.workflow.Withdraw(r.Context(), applicationID, p)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, app)
}

// Routes mounts the job endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/jobs", h.CreateOffer)
	r.Get("/jobs/{jobID}", h.GetOffer)
	r.Post("/jobs/{jobID}/cancel", h.CancelOffer)
	r.Post("/jobs/{jobID}/apply", h.Apply)
	r.Get("/jobs/{jobID}/applications", h.ListApplications)
	r.Put("/jobs/{jobID}/applications/{applicationID}", h.Decide)
	r.Post("/applications/{applicationID}/withdraw", h.Withdraw)
}
