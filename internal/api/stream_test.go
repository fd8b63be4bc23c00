package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmdgate/cmdgate/internal/events"
	"github.com/cmdgate/cmdgate/pkg/types"
)

func TestStreamEventsDeliversPublished(t *testing.T) {
	app, _, _ := newTestApp(t, nil)
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// Give the handler a moment to subscribe before publishing.
	var got types.Event
	require.Eventually(t, func() bool {
		app.broker.Publish(types.Event{ID: "e1", Type: events.EventCommandStart})
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		return conn.ReadJSON(&got) == nil
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, events.EventCommandStart, got.Type)
}

func TestStreamEventsRequiresUpgrade(t *testing.T) {
	app, _, _ := newTestApp(t, nil)
	rec := doJSON(t, app.Router(), http.MethodGet, "/api/v1/events/stream", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
