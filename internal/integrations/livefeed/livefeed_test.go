package livefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/medspa-scheduling/internal/apps"
	"github.com/wolfman30/medspa-scheduling/internal/events"
)

func buildFeed(t *testing.T, hub *Hub, data string) *Feed {
	t.Helper()
	app := &apps.ConnectedApp{ID: "feed-1", Name: Name}
	if data != "" {
		app.Data = json.RawMessage(data)
	}
	impl, err := Descriptor(hub).Build(app, apps.Env{})
	require.NoError(t, err)
	return impl.(*Feed)
}

func serve(t *testing.T, hub *Hub, data string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Each request builds a fresh instance, as the gateway does.
		_ = buildFeed(t, hub, data).ProcessWebhook(r.Context(), w, r)
	}))
	t.Cleanup(srv.Close)
	return strings.Replace(srv.URL, "http://", "ws://", 1)
}

func receive(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, websocket.JSON.Receive(conn, &msg))
	return msg
}

func TestFeedBroadcastsEvents(t *testing.T) {
	hub := NewHub(nil)
	url := serve(t, hub, `{"token":"t0k"}`)

	conn, err := websocket.Dial(url+"/?token=t0k", "", "http://localhost/")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "hello", receive(t, conn).Type)
	assert.Equal(t, 1, hub.Count("feed-1"))

	require.NoError(t, websocket.JSON.Send(conn, map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", receive(t, conn).Type)

	evt := events.Created(events.AppointmentSnapshot{ID: "appt-1"}, time.Now())
	require.NoError(t, buildFeed(t, hub, "").OnAppointmentCreated(context.Background(), *evt.Created))

	msg := receive(t, conn)
	assert.Equal(t, string(events.TypeAppointmentCreated), msg.Type)
	assert.Equal(t, "feed-1", msg.AppID)
}

func TestFeedRejectsBadToken(t *testing.T) {
	hub := NewHub(nil)
	feed := buildFeed(t, hub, `{"token":"t0k"}`)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/?token=nope", nil)
	require.NoError(t, feed.ProcessWebhook(context.Background(), rec, req))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, feed.StreamsWebhook())
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	hub := NewHub(nil)
	assert.Equal(t, 0, hub.Broadcast("nobody", Message{Type: "x"}))
}
