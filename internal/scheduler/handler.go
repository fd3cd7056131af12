package scheduler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Handler exposes the scheduler trigger endpoints, authenticated by a shared key.
type Handler struct {
	scheduler *Scheduler
	secret    []byte
	logger    *logging.Logger
	now       func() time.Time
}

// NewHandler builds the trigger handler. An empty secret rejects every call.
func NewHandler(s *Scheduler, secret string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{scheduler: s, secret: []byte(secret), logger: logger, now: time.Now}
}

// RegisterRoutes mounts the endpoints. Expected under /scheduler.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.tick)
	r.Get("/cleanup", h.cleanup)
}

func (h *Handler) authorized(r *http.Request) bool {
	if len(h.secret) == 0 {
		return false
	}
	key := []byte(r.URL.Query().Get("key"))
	return subtle.ConstantTimeCompare(key, h.secret) == 1
}

// tick handles GET /scheduler?key=...&dateTime=...
func (h *Handler) tick(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	ref := h.now().UTC()
	if raw := r.URL.Query().Get("dateTime"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, `{"error": "invalid dateTime"}`, http.StatusBadRequest)
			return
		}
		ref = parsed
	}

	report, err := h.scheduler.Tick(r.Context(), ref.Truncate(time.Minute))
	if err != nil {
		h.logger.Error("scheduler tick failed", "error", err)
		http.Error(w, `{"error": "tick failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// cleanup handles GET /scheduler/cleanup?key=...
func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	report, err := h.scheduler.Cleanup(r.Context(), h.now())
	if err != nil {
		h.logger.Warn("scheduler cleanup incomplete", "error", err)
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
