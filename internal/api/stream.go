package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"vrpdash/internal/webhooks"
)

const heartbeatInterval = 15 * time.Second

// TripEventsStreamHandler handles GET /v1/trips/{id}/events/stream (SSE).
func (s *Server) TripEventsStreamHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if _, err := s.loadTrip(r.Context(), p.Tenant, id); err != nil {
		writeLoadProblem(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	key := tripKey(p.Tenant, id)
	ch := s.Broker.Subscribe(key)
	defer s.Broker.Unsubscribe(key, ch)

	heartbeat := func() {
		writeSSE(w, "heartbeat", map[string]string{"tripId": id, "ts": time.Now().UTC().Format(time.RFC3339)})
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt.Type, evt.Data)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

// writeSSE frames one event. The data line is always JSON, so ids with
// control or non-ASCII characters stay decodable.
func writeSSE(w io.Writer, event string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		log.WithError(err).WithField("event", event).Warn("encode sse event")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage is the envelope for both directions on /v1/trips/{id}/ws.
//
// client -> server: {"type":"filter","vehicle":"V1"} | {"type":"ping"}
// server -> client: {"type":"dashboard",...} | {"type":"pong"} | {"type":"error",...}
type wsMessage struct {
	Type    string `json:"type"`
	Vehicle string `json:"vehicle,omitempty"`
	TripID  string `json:"tripId,omitempty"`
	Version int    `json:"version,omitempty"`
	Filter  string `json:"filter,omitempty"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// TripWSHandler handles GET /v1/trips/{id}/ws. It pushes the dashboard on
// connect, whenever the trip is re-analyzed, and whenever the client changes
// the vehicle filter. Only this goroutine writes to the connection.
func (s *Server) TripWSHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.principal(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if _, err := s.loadTrip(r.Context(), p.Tenant, id); err != nil {
		writeLoadProblem(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	logger := log.WithFields(log.Fields{"tenant": p.Tenant, "trip": id})

	key := tripKey(p.Tenant, id)
	events := s.Broker.Subscribe(key)
	defer s.Broker.Unsubscribe(key, events)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(60 * time.Second)) })

	incoming := make(chan wsMessage)
	closed := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(closed)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			select {
			case incoming <- msg:
			case <-done:
				return
			}
		}
	}()

	filter := r.URL.Query().Get("vehicle")
	push := func() error {
		doc, rec, err := s.tripDocument(r.Context(), p.Tenant, id)
		if err != nil {
			return conn.WriteJSON(wsMessage{Type: "error", Message: err.Error()})
		}
		d := s.compute("ws", p.Tenant, rec.ID, doc, filter)
		return conn.WriteJSON(wsMessage{Type: "dashboard", TripID: rec.ID, Version: rec.Version, Filter: filter, Data: d})
	}
	if err := push(); err != nil {
		return
	}

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()
	for {
		var err error
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case msg := <-incoming:
			switch msg.Type {
			case "filter":
				filter = msg.Vehicle
				err = push()
			case "ping":
				err = conn.WriteJSON(wsMessage{Type: "pong"})
			default:
				err = conn.WriteJSON(wsMessage{Type: "error", Message: "unknown message type " + msg.Type})
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type == webhooks.EventTripAnalyzed {
				err = push()
			}
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		}
		if err != nil {
			logger.WithError(err).Debug("websocket closed")
			return
		}
	}
}
