package broadcast

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Default subscriber limits.
const (
	DefaultQueueSize    = 16
	DefaultWriteTimeout = 10 * time.Second
)

// Conn is the part of *websocket.Conn the hub uses.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
	RemoteAddr() net.Addr
	Close() error
}

type subscriber struct {
	conn Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Hub fans messages out to websocket subscribers. Every subscriber has a
// bounded queue drained by its own writer goroutine; a subscriber whose
// queue is full or whose write fails is dropped so that one slow client
// never delays the others.
type Hub struct {
	logger       *zap.Logger
	upgrader     websocket.Upgrader
	queueSize    int
	writeTimeout time.Duration

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates a hub. Zero limits fall back to the defaults.
func NewHub(queueSize int, writeTimeout time.Duration, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Hub{
		logger: logger.Named("broadcast"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queueSize:    queueSize,
		writeTimeout: writeTimeout,
		subs:         make(map[*subscriber]struct{}),
	}
}

// ServeWS upgrades the request and subscribes the connection until the
// client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	s := h.add(conn)
	if s == nil {
		return
	}

	h.logger.Info("websocket client connected",
		zap.String("remoteAddr", conn.RemoteAddr().String()),
	)

	// Reads only detect disconnects; client messages are discarded.
	go func() {
		defer func() {
			h.drop(s)
			h.logger.Info("websocket client disconnected",
				zap.String("remoteAddr", conn.RemoteAddr().String()),
			)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// add registers conn and starts its writer. It returns nil if the hub has
// been closed.
func (h *Hub) add(conn Conn) *subscriber {
	s := &subscriber{
		conn: conn,
		send: make(chan []byte, h.queueSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(s)
	return s
}

func (h *Hub) writeLoop(s *subscriber) {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout)); err != nil {
				h.drop(s)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("failed to write to websocket client",
					zap.String("remoteAddr", s.conn.RemoteAddr().String()),
					zap.Error(err),
				)
				h.drop(s)
				return
			}
		}
	}
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.close()
}

// Broadcast encodes msg once and enqueues it for every subscriber without
// blocking.
func (h *Hub) Broadcast(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast message: %w", err)
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client",
				zap.String("remoteAddr", s.conn.RemoteAddr().String()),
			)
			h.drop(s)
		}
	}
	return nil
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*subscriber]struct{})
	h.closed = true
	h.mu.Unlock()

	for s := range subs {
		s.close()
	}
	if len(subs) > 0 {
		h.logger.Info("closed websocket clients", zap.Int("count", len(subs)))
	}
}
