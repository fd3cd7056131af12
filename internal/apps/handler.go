package apps

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Handler exposes admin endpoints for managing connected apps.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes mounts the endpoints. Expected under /admin/apps.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/descriptors", h.descriptors)
	r.Get("/{appID}", h.get)
	r.Put("/{appID}/status", h.updateStatus)
	r.Delete("/{appID}", h.delete)
}

type createRequest struct {
	Name   string          `json:"name"`
	Scopes []string        `json:"scopes"`
	Data   json.RawMessage `json:"data"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	scopes, err := ParseScopes(req.Scopes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	app, err := h.service.Create(r.Context(), req.Name, scopes, req.Data)
	if err != nil {
		h.writeError(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var filter ListFilter
	if raw := r.URL.Query().Get("scope"); raw != "" {
		scope, err := ParseScope(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Scope = scope
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter.Statuses = []Status{status}
	}
	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, "list", err)
		return
	}
	if list == nil {
		list = []*ConnectedApp{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"apps": list, "count": len(list)})
}

func (h *Handler) descriptors(w http.ResponseWriter, r *http.Request) {
	type view struct {
		Name   string  `json:"name"`
		Label  string  `json:"label"`
		Scopes []Scope `json:"scopes"`
	}
	var out []view
	for _, d := range h.service.Registry().Descriptors() {
		out = append(out, view{Name: d.Name, Label: d.Label, Scopes: d.Scopes})
	}
	writeJSON(w, http.StatusOK, map[string]any{"descriptors": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	app, err := h.service.Get(r.Context(), chi.URLParam(r, "appID"))
	if err != nil {
		h.writeError(w, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
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
	id := chi.URLParam(r, "appID")
	if err := h.service.UpdateStatus(r.Context(), id, status); err != nil {
		h.writeError(w, "update status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": status})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "appID")); err != nil {
		h.writeError(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrAppNotFound), errors.Is(err, ErrDescriptorNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidScope), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidData):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrAppInUse):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("apps handler: "+op, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
