package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/makr-code/loraforge/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 512
	wsReadWait   = 60 * time.Second
)

// serveJobsWS upgrades the connection and pumps sub's events to the client
// as JSON text frames until the subscription ends or the socket closes.
// Grounded on the corpus's WebSocket job hub write/read pump pair, adapted
// from a single fan-out hub with its own registration channels to this
// service's per-call hub.Subscription (registration already happened in
// Observe, so there is no register/unregister channel here — Unsubscribe
// on readPump exit is the only hub-side bookkeeping left to do).
func (s *Server) serveJobsWS(w http.ResponseWriter, r *http.Request, sub *hub.Subscription) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	done := make(chan struct{})
	go wsReadPump(conn, sub, s, done)
	wsWritePump(conn, sub)
	<-done
}

// wsWritePump relays events from sub to the connection and keepalive-pings
// on wsPingPeriod, returning when sub ends or a write fails.
func wsWritePump(conn *websocket.Conn, sub *hub.Subscription) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-sub.Done():
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsReadPump reads (and discards) inbound frames solely to detect the
// client closing the connection, then unsubscribes from the hub so the
// subscription slot is freed.
func wsReadPump(conn *websocket.Conn, sub *hub.Subscription, s *Server, done chan struct{}) {
	defer func() {
		s.hub.Unsubscribe(sub)
		close(done)
	}()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsReadWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
