package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vrracer/camstream/internal/apierr"
)

// Ping/pong keepalive constants for the server side of the connection.
const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEvents upgrades to a websocket connection and streams the Event
// Hub's {type, payload} frames to an admin dashboard. Not in the
// original HTTP table; added because a live event feed is a natural
// consumer of state changes C2/C7/C8 already compute server-side.
func (d *Deps) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, err := d.Token.RequireAuth(r, true); err != nil {
		writeError(w, err)
		return
	}
	if d.Events == nil {
		writeError(w, apierr.Resource("event feed not configured"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := d.Events.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}
