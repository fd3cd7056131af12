package availability

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

// Handler serves GET /availability.
type Handler struct {
	engine *Engine
	logger *logging.Logger
}

func NewHandler(engine *Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/availability", h.get)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	seconds, err := strconv.ParseInt(q.Get("duration"), 10, 64)
	if err != nil || seconds <= 0 || seconds > int64(MaxRange/time.Second) {
		http.Error(w, "duration must be a positive number of seconds up to 366 days", http.StatusBadRequest)
		return
	}
	query := Query{
		Duration: time.Duration(seconds) * time.Second,
		Resource: q.Get("resource"),
	}
	if raw := q.Get("tz"); raw != "" {
		loc, err := time.LoadLocation(raw)
		if err != nil {
			http.Error(w, "invalid tz", http.StatusBadRequest)
			return
		}
		query.Location = loc
	}
	if query.From, err = parseTime(q.Get("from")); err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	if query.To, err = parseTime(q.Get("to")); err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	res, err := h.engine.Compute(r.Context(), query)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidRange):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrSourcesUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	default:
		h.logger.Error("availability handler: compute", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
