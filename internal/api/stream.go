package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// The gate binds to loopback; browser origin checks add nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvents pushes live audit events over a websocket. Slow readers
// lose events at the broker rather than stalling publishers.
func (a *App) streamEvents(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "websocket upgrade required"})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := a.broker.Subscribe(200)
	defer a.broker.Unsubscribe(ch)

	// Reader goroutine drains control frames and unblocks on close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
