package zinguo

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamSendBuffer = 8
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingEvery  = streamPongWait * 9 / 10
)

// streamMessage is the envelope written to websocket clients.
type streamMessage struct {
	Type    string         `json:"type"`
	Time    string         `json:"time"`
	Payload map[string]any `json:"payload"`
}

// StatusStream pushes the GetStatus view to websocket clients: once on
// connect and again after every poll cycle. Slow clients miss updates
// rather than stall the coordinator.
type StatusStream struct {
	coordinator *Coordinator
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	unsubscribe func()

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewStatusStream subscribes to coordinator until Close.
func NewStatusStream(coordinator *Coordinator, logger *slog.Logger) *StatusStream {
	if logger == nil {
		logger = slog.Default()
	}
	s := &StatusStream{
		coordinator: coordinator,
		logger:      logger.With("component", "status_stream"),
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		clients:     make(map[*streamClient]struct{}),
	}
	s.unsubscribe = coordinator.Subscribe(func(PollOutcome) { s.broadcast() })
	return s
}

// ServeHTTP upgrades the request and streams until the client leaves.
func (s *StatusStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	client := &streamClient{conn: conn, send: make(chan []byte, streamSendBuffer)}
	if !s.register(client) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(streamWriteWait))
		_ = conn.Close()
		return
	}
	if data, err := s.message(); err == nil {
		client.trySend(data)
	}

	go s.writeLoop(client)
	s.readLoop(client)
	s.unregister(client)
}

// Clients is the number of connected websocket clients.
func (s *StatusStream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close unsubscribes and disconnects every client.
func (s *StatusStream) Close() {
	s.unsubscribe()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for client := range s.clients {
		close(client.send)
		delete(s.clients, client)
	}
}

func (s *StatusStream) register(client *streamClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[client] = struct{}{}
	return true
}

// unregister closes send only if the client was still registered, so a
// concurrent Close never double-closes it.
func (s *StatusStream) unregister(client *streamClient) {
	s.mu.Lock()
	_, ok := s.clients[client]
	delete(s.clients, client)
	s.mu.Unlock()
	if ok {
		close(client.send)
	}
}

func (s *StatusStream) message() ([]byte, error) {
	return json.Marshal(streamMessage{
		Type:    "status",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Payload: statusFields(s.coordinator),
	})
}

func (s *StatusStream) broadcast() {
	data, err := s.message()
	if err != nil {
		s.logger.Error("encode status message", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		client.trySend(data)
	}
}

func (c *streamClient) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// readLoop discards client frames; it exists to process pongs and notice
// disconnects.
func (s *StatusStream) readLoop(client *streamClient) {
	conn := client.conn
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *StatusStream) writeLoop(client *streamClient) {
	ticker := time.NewTicker(streamPingEvery)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
