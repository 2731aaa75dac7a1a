package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidemark/flotilla/pkg/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is served to trusted cluster tooling
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wireEvent is the JSON frame pushed to websocket subscribers
type wireEvent struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Message   string           `json:"message,omitempty"`
	JobID     string           `json:"job_id,omitempty"`
	RegionID  string           `json:"region_id,omitempty"`
	EntityID  string           `json:"entity_id,omitempty"`
	NodeID    string           `json:"node_id,omitempty"`
	Payload   interface{}      `json:"payload,omitempty"`
}

// handleEventStream upgrades to a websocket and forwards broker events.
// An optional ?types=job.started,failover.event query narrows the stream.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	var filter []events.EventType
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			filter = append(filter, events.EventType(strings.TrimSpace(t)))
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := s.deps.Broker.Subscribe(filter...)
	defer s.deps.Broker.Unsubscribe(sub)
	defer conn.Close()

	// Reader goroutine: we never expect client frames, but reading is what
	// detects a closed peer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			frame := wireEvent{
				Type:      event.Type,
				Timestamp: event.Timestamp,
				Message:   event.Message,
				JobID:     event.JobID,
				RegionID:  event.RegionID,
				EntityID:  event.EntityID,
				NodeID:    event.NodeID,
				Payload:   event.Payload,
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
