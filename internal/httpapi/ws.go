package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served cross-origin in dev setups.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleDashboardWS streams state snapshots to a dashboard client. The
// current snapshot is sent on connect, then one message per state
// change; a slow client receives the latest snapshot only.
func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	wsClients.Inc()
	defer wsClients.Dec()
	defer conn.Close()

	states, cancel := s.states.Subscribe()
	defer cancel()

	// Drain reads so close frames and pongs are processed. Clients do
	// not send data messages.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case state, ok := <-states:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(state); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
