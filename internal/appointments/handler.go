package appointments

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/medspa-scheduling/internal/availability"
	"github.com/wolfman30/medspa-scheduling/internal/settings"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Handler exposes the booking endpoints.
type Handler struct {
	service  *Service
	settings settings.Provider
	logger   *logging.Logger
}

func NewHandler(service *Service, provider settings.Provider, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, settings: provider, logger: logger}
}

// RegisterRoutes mounts the public booking endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/event", h.create)
	r.Get("/appointments/{appointmentID}/{action}", h.transition)
}

// RegisterAdminRoutes mounts the admin endpoints. Expected under /admin/appointments.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.adminCreate)
	r.Get("/{appointmentID}", h.get)
	r.Put("/{appointmentID}/reschedule", h.reschedule)
	r.Put("/{appointmentID}/status", h.setStatus)
}

type createRequest struct {
	Fields          map[string]string `json:"fields"`
	Start           time.Time         `json:"start"`
	DurationSeconds int64             `json:"duration"`
	Timezone        string            `json:"timezone"`
	Resource        string            `json:"resource"`
	CustomerID      *string           `json:"customer_id"`
}

func (req createRequest) input() (CreateInput, error) {
	duration, err := durationFromSeconds(req.DurationSeconds)
	if err != nil {
		return CreateInput{}, err
	}
	return CreateInput{
		Fields:     req.Fields,
		Start:      req.Start,
		Duration:   duration,
		Timezone:   req.Timezone,
		Resource:   req.Resource,
		CustomerID: req.CustomerID,
	}, nil
}

// create is the public booking endpoint. The initial status always comes
// from booking.initial_status.
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	in, err := req.input()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	appt, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": appt.ID, "status": appt.Status})
}

// adminCreate books on behalf of staff, who may pick the initial status.
func (h *Handler) adminCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		createRequest
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	in, err := req.input()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Status != "" {
		if in.Status, err = ParseStatus(req.Status); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	appt, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, "admin create", err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// durationFromSeconds converts a wire duration, refusing values beyond the
// longest bookable range.
func durationFromSeconds(seconds int64) (time.Duration, error) {
	if seconds < 0 || seconds > int64(availability.MaxRange/time.Second) {
		return 0, fmt.Errorf("%w: duration out of range", ErrInvalidInput)
	}
	return time.Duration(seconds) * time.Second, nil
}

var actions = map[string]Status{
	"confirm": StatusConfirmed,
	"decline": StatusDeclined,
}

// transition serves the confirm/decline links sent to staff and customers,
// redirecting to the public status page afterwards.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	to, ok := actions[chi.URLParam(r, "action")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	id := chi.URLParam(r, "appointmentID")
	appt, err := h.service.ChangeStatus(r.Context(), id, to)
	if err != nil {
		h.writeError(w, "transition", err)
		return
	}

	general, err := h.settings.General(r.Context())
	if err != nil || general.PublicURL == "" {
		writeJSON(w, http.StatusOK, map[string]any{"id": appt.ID, "status": appt.Status})
		return
	}
	target := strings.TrimRight(general.PublicURL, "/") + "/appointments/" + url.PathEscape(appt.ID) + "?status=" + url.QueryEscape(string(appt.Status))
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.service.Get(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	from := time.Now().UTC()
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, "invalid from", http.StatusBadRequest)
			return
		}
	}
	to := from.Add(7 * 24 * time.Hour)
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, "invalid to", http.StatusBadRequest)
			return
		}
	}
	list, err := h.service.ListStarting(r.Context(), from, to)
	if err != nil {
		h.writeError(w, "list", err)
		return
	}
	if list == nil {
		list = []*Appointment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list, "count": len(list)})
}

func (h *Handler) reschedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start           time.Time `json:"start"`
		DurationSeconds int64     `json:"duration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	duration, err := durationFromSeconds(req.DurationSeconds)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	appt, err := h.service.Reschedule(r.Context(), chi.URLParam(r, "appointmentID"), req.Start, duration)
	if err != nil {
		h.writeError(w, "reschedule", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	appt, err := h.service.ChangeStatus(r.Context(), chi.URLParam(r, "appointmentID"), status)
	if err != nil {
		h.writeError(w, "set status", err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrMissingFields), errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConcurrentUpdate):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, availability.ErrSourcesUnavailable):
		http.Error(w, "calendar sources unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("appointments handler: "+op, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
