package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWebSocket streams topic to the client over a WebSocket. Each event is
// sent as one StreamMessage text frame.
func serveWebSocket[T any](a *App, topic *Topic[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied to the client.
			a.logger.Debug("WebSocket upgrade failed", "topic", topic.Name, "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := a.streamContext(r.Context())
		defer cancel()

		sub := topic.Hub.Subscribe()
		defer sub.Close()

		a.logger.Debug("Stream client connected", "topic", topic.Name, "transport", "websocket")
		defer a.logger.Debug("Stream client disconnected", "topic", topic.Name, "transport", "websocket")

		// The hijacked request context does not notice the client leaving, so
		// a read loop watches the connection and cancels the stream.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						a.logger.Debug("WebSocket read error", "topic", topic.Name, "error", err)
					}
					return
				}
			}
		}()

		send := func(ev T) error {
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(StreamMessage[T]{Event: topic.Event, Data: ev})
		}
		idle := func() error {
			return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
		}

		if err := pump(ctx, a, topic, sub, send, idle); err != nil {
			a.logger.Debug("Stream ended", "topic", topic.Name, "transport", "websocket", "error", err)
			return
		}

		closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(wsWriteWait))
	}
}
