package settings

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

const maxSectionBytes = 64 << 10

// Handler exposes admin endpoints to read and replace settings sections.
type Handler struct {
	provider Provider
	writer   Writer
	logger   *logging.Logger
}

func NewHandler(provider Provider, writer Writer, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{provider: provider, writer: writer, logger: logger}
}

// RegisterRoutes mounts the endpoints. Expected under /admin/settings.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/{section}", h.get)
	r.Put("/{section}", h.put)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	raw, err := h.provider.Get(r.Context(), chi.URLParam(r, "section"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	if h.writer == nil {
		http.Error(w, "settings are read-only", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSectionBytes))
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	section := chi.URLParam(r, "section")
	if err := h.writer.Set(r.Context(), section, body); err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("settings section updated", "section", section)
	raw, err := h.provider.Get(r.Context(), section)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownSection):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("settings handler", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
