package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/gazestream/internal/monitoring"
)

// WebSocketConfig holds configuration for the WebSocket hub.
type WebSocketConfig struct {
	ListenAddr       string
	SubscriberBuffer int
	WriteTimeout     time.Duration
}

// WebSocketHub serves streams to browser and avatar clients at
// /streams/<name>. The first message on a connection is the descriptor;
// every following message is one JSON sample.
type WebSocketHub struct {
	cfg      WebSocketConfig
	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	mu      sync.RWMutex
	streams map[string]*wsStream

	running atomic.Bool
	wg      sync.WaitGroup
}

type wsStream struct {
	desc Descriptor
	info []byte

	mu      sync.RWMutex
	clients map[string]chan []byte
	closed  bool

	dropped atomic.Uint64
}

// NewWebSocketHub creates a hub. Call Start before pushing.
func NewWebSocketHub(cfg WebSocketConfig) *WebSocketHub {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 50 * time.Millisecond
	}
	return &WebSocketHub{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		streams: make(map[string]*wsStream),
	}
}

// Handler returns the HTTP handler serving /streams/<name>.
func (h *WebSocketHub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/streams/", h.serveStream)
	return mux
}

// Start binds the listener and serves in the background.
func (h *WebSocketHub) Start() error {
	if h.running.Load() {
		return fmt.Errorf("websocket hub already running")
	}
	lis, err := net.Listen("tcp", h.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	h.listener = lis
	h.server = &http.Server{Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}
	h.running.Store(true)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		monitoring.Logf("[WebSocket] Listening on %s", lis.Addr())
		if err := h.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("[WebSocket] Server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (h *WebSocketHub) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Close disconnects every client and stops the server.
func (h *WebSocketHub) Close() error {
	if !h.running.Swap(false) {
		return nil
	}
	h.mu.RLock()
	for _, s := range h.streams {
		s.closeClients()
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.server.Shutdown(ctx)
	h.wg.Wait()
	return err
}

// Open registers desc and returns its outlet.
func (h *WebSocketHub) Open(desc Descriptor) (Outlet, error) {
	info, err := json.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor %s: %w", desc.Name(), err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.streams[desc.Name()]; exists {
		return nil, fmt.Errorf("stream %s already open", desc.Name())
	}
	s := &wsStream{desc: desc, info: info, clients: make(map[string]chan []byte)}
	h.streams[desc.Name()] = s
	monitoring.Logf("[WebSocket] Opened stream %s", desc)
	return &wsOutlet{hub: h, stream: s}, nil
}

func (h *WebSocketHub) serveStream(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/streams/")
	h.mu.RLock()
	s, ok := h.streams[name]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, fmt.Sprintf("%v: %s", ErrUnknownStream, name), http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("[WebSocket] Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	ch := make(chan []byte, h.cfg.SubscriberBuffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.clients[id] = ch
	s.mu.Unlock()
	defer s.remove(id)

	conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, s.info); err != nil {
		return
	}

	// Reader goroutine notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					monitoring.Logf("[WebSocket] Client %s error: %v", id, err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg, ok := <-ch:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(h.cfg.WriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (s *wsStream) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.clients[id]; ok {
		close(ch)
		delete(s.clients, id)
	}
}

func (s *wsStream) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
}

type wsOutlet struct {
	hub    *WebSocketHub
	stream *wsStream
}

// Push queues the sample for every client without blocking.
func (o *wsOutlet) Push(smp Sample) error {
	if !o.hub.running.Load() {
		return ErrNotRunning
	}
	msg, err := EncodeSampleJSON(o.stream.desc.Name(), smp)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	s := o.stream
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrNotRunning
	}
	for _, ch := range s.clients {
		select {
		case ch <- msg:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

func (o *wsOutlet) Close() error {
	o.stream.closeClients()
	o.hub.mu.Lock()
	delete(o.hub.streams, o.stream.desc.Name())
	o.hub.mu.Unlock()
	return nil
}
