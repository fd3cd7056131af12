package scheduler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/medspa-scheduling/internal/settings"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

func serveScheduler(h *Handler, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/scheduler", h.RegisterRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandlerRejectsWrongKeyWithoutSending(t *testing.T) {
	f := newFixture(t, settings.DefaultCommunications())
	mailer := &fakeMailer{}
	f.connect(t, "mailer", mailer)
	f.book(t, ref.Add(time.Hour), contact())

	h := NewHandler(f.scheduler, "s3cret", logging.Discard())
	for _, target := range []string{
		"/scheduler/?dateTime=2026-03-02T09:00:00Z",
		"/scheduler/?key=wrong&dateTime=2026-03-02T09:00:00Z",
		"/scheduler/?key=s3cret-but-longer&dateTime=2026-03-02T09:00:00Z",
		"/scheduler/cleanup?key=nope",
	} {
		assert.Equal(t, http.StatusUnauthorized, serveScheduler(h, target).Code, target)
	}
	assert.Zero(t, mailer.count())

	empty := NewHandler(f.scheduler, "", logging.Discard())
	assert.Equal(t, http.StatusUnauthorized, serveScheduler(empty, "/scheduler/?key=").Code)
}

func TestHandlerTick(t *testing.T) {
	f := newFixture(t, settings.DefaultCommunications())
	mailer := &fakeMailer{}
	f.connect(t, "mailer", mailer)
	f.book(t, ref.Add(time.Hour), contact())
	h := NewHandler(f.scheduler, "s3cret", logging.Discard())

	assert.Equal(t, http.StatusBadRequest, serveScheduler(h, "/scheduler/?key=s3cret&dateTime=tomorrow").Code)

	rec := serveScheduler(h, "/scheduler/?key=s3cret&dateTime=2026-03-02T09:00:20Z")
	require.Equal(t, http.StatusOK, rec.Code)
	var report TickReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, ref, report.Ref, "ref is truncated to the minute")
	assert.Equal(t, 1, report.Reminders.Sent)
	assert.Equal(t, 1, mailer.count())
}

func TestHandlerTickDefaultsToNow(t *testing.T) {
	f := newFixture(t, settings.DefaultCommunications())
	h := NewHandler(f.scheduler, "s3cret", logging.Discard())
	h.now = func() time.Time { return ref.Add(30 * time.Second) }

	rec := serveScheduler(h, "/scheduler/?key=s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	var report TickReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, ref, report.Ref)
}

func TestHandlerCleanup(t *testing.T) {
	f := newFixture(t, settings.DefaultCommunications())
	h := NewHandler(f.scheduler, "s3cret", logging.Discard())
	h.now = func() time.Time { return ref }

	rec := serveScheduler(h, "/scheduler/cleanup?key=s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"logs_deleted":0`)
}
