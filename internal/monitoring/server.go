package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/gazestream/internal/httputil"
)

// ServerConfig contains configuration options for the status server.
type ServerConfig struct {
	Address string
	Board   *StatusBoard
}

// Server serves /health, /status and the /debug/ admin pages.
type Server struct {
	address string
	board   *StatusBoard
	mux     *http.ServeMux
	server  *http.Server

	mu    sync.Mutex
	stats map[string]func() any
	ln    net.Listener
	ready chan struct{}
}

// NewServer creates the status server. Components attach their own admin
// routes through Mux before Start.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		address: cfg.Address,
		board:   cfg.Board,
		mux:     http.NewServeMux(),
		stats:   make(map[string]func() any),
		ready:   make(chan struct{}),
	}
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.AttachAdminRoutes(s.mux)
	s.server = &http.Server{Addr: s.address, Handler: s.mux}
	return s
}

// Mux returns the server's mux.
func (s *Server) Mux() *http.ServeMux { return s.mux }

// Register adds a named stats source to /status.
func (s *Server) Register(name string, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[name] = fn
}

// AttachAdminRoutes mounts the status board on the debug page.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Status", func() any {
		if s.board == nil {
			return "-"
		}
		return s.board.Snapshot().Line
	})
	debug.HandleFunc("pipeline", "Pipeline status and counters (JSON)", s.handleStatus)
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("status server listen on %s: %w", s.address, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	close(s.ready)

	errCh := make(chan error, 1)
	go func() {
		Logf("[Status] HTTP server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		Logf("[Status] HTTP server shutdown error: %v", err)
		s.server.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireGet(w, r) {
		return
	}

	out := map[string]any{}
	if s.board != nil {
		out["status"] = s.board.Snapshot()
	}

	s.mu.Lock()
	names := make([]string, 0, len(s.stats))
	for name := range s.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]func() any, len(names))
	for i, name := range names {
		fns[i] = s.stats[name]
	}
	s.mu.Unlock()

	for i, name := range names {
		out[name] = fns[i]()
	}

	httputil.WriteJSONOK(w, out)
}
