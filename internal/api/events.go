package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bbernstein/lacylights-midi/internal/services/pubsub"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 10 * time.Second
)

// eventMessage is one frame on the live feed.
type eventMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// events streams dispatch and reload notifications. An optional ?kind=
// query restricts dispatch notifications to one event kind.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	if s.pubsub == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "live feed disabled"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️  WebSocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	dispatched := s.pubsub.Subscribe(pubsub.TopicEventDispatched, r.URL.Query().Get("kind"), 64)
	defer s.pubsub.Unsubscribe(dispatched)
	reloads := s.pubsub.Subscribe(pubsub.TopicConfigReloaded, "", 8)
	defer s.pubsub.Unsubscribe(reloads)

	log.Printf("🔌 Live feed client connected: %s", r.RemoteAddr)
	defer log.Printf("🔌 Live feed client disconnected: %s", r.RemoteAddr)

	// The read side only exists to notice the client going away.
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var msg eventMessage
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case data, ok := <-dispatched.Channel:
			if !ok {
				return
			}
			msg = eventMessage{Type: "event", Data: data}
		case data, ok := <-reloads.Channel:
			if !ok {
				return
			}
			msg = eventMessage{Type: "reload", Data: data}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
