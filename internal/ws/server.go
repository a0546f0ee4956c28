package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bingosuite/inspector/config"
)

var (
	ErrTargetNotFound = errors.New("target not found")
	ErrMaxSessions    = errors.New("max sessions reached")
)

type Server struct {
	addr     string
	hubs     map[string]*Hub
	config   config.WebSocketConfig
	log      zerolog.Logger
	journal  Recorder
	router   *mux.Router
	http     *http.Server
	upgrader websocket.Upgrader
	mu       sync.RWMutex
}

type Option func(*Server)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log.With().Str("component", "server").Logger() }
}

// WithJournal records every message of every session.
func WithJournal(r Recorder) Option {
	return func(s *Server) { s.journal = r }
}

func NewServer(addr string, cfg *config.WebSocketConfig, opts ...Option) *Server {
	if cfg == nil {
		cfg = &config.Default().WebSocket
	}
	s := &Server{
		addr:   addr,
		hubs:   make(map[string]*Hub),
		config: *cfg,
		log:    zerolog.Nop(),
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.HandleFunc("/json", s.listTargets).Methods(http.MethodGet)
	s.router.HandleFunc("/json/list", s.listTargets).Methods(http.MethodGet)
	s.router.HandleFunc("/json/version", s.version).Methods(http.MethodGet)
	s.router.HandleFunc("/devtools/{id}", s.attach)
	s.http = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve blocks until Shutdown.
func (s *Server) Serve() error {
	s.log.Info().Str("addr", s.addr).Msg("inspector listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve on %s: %w", s.addr, err)
	}
	return nil
}

// AddTarget exposes a bridge as a debuggable target and starts its hub.
func (s *Server) AddTarget(title, url string, b Bridge, breakOnNextLine bool) (*Hub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.MaxSessions > 0 && len(s.hubs) >= s.config.MaxSessions {
		s.log.Warn().Int("max_sessions", s.config.MaxSessions).Str("title", title).Msg("rejecting target")
		return nil, fmt.Errorf("%w (%d)", ErrMaxSessions, s.config.MaxSessions)
	}

	id := uuid.NewString()
	hub := NewHub(id, b, s.config.IdleTimeout, s.log)
	hub.title = title
	hub.url = url
	hub.breakOnNextLine = breakOnNextLine
	hub.journal = s.journal
	hub.onShutdown = s.removeHub
	s.hubs[id] = hub
	go hub.Run()
	s.log.Info().Str("target", id).Str("title", title).Msg("target added")
	return hub, nil
}

func (s *Server) GetHub(targetID string) (*Hub, error) {
	s.mu.RLock()
	hub, exists := s.hubs[targetID]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
	}
	return hub, nil
}

func (s *Server) removeHub(targetID string) {
	s.mu.Lock()
	delete(s.hubs, targetID)
	s.mu.Unlock()
	s.log.Info().Str("target", targetID).Msg("target removed")
}

// Targets lists the targets as seen from host.
func (s *Server) Targets(host string) []Target {
	s.mu.RLock()
	hubs := make([]*Hub, 0, len(s.hubs))
	for _, hub := range s.hubs {
		hubs = append(hubs, hub)
	}
	s.mu.RUnlock()

	targets := make([]Target, 0, len(hubs))
	for _, hub := range hubs {
		t := hub.target()
		if !hub.Attached() {
			ws := host + "/devtools/" + t.ID
			t.WebSocketDebuggerURL = "ws://" + ws
			t.DevtoolsFrontendURL = "devtools://devtools/bundled/js_app.html?experiments=true&v8only=true&ws=" + ws
		}
		targets = append(targets, t)
	}
	return targets
}

// Shutdown stops every hub, which ends their sessions, then the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	hubs := make([]*Hub, 0, len(s.hubs))
	for _, hub := range s.hubs {
		hubs = append(hubs, hub)
	}
	s.mu.RUnlock()

	s.log.Info().Int("targets", len(hubs)).Msg("shutting down")
	for _, hub := range hubs {
		hub.Stop()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.Targets(r.Host))
}

func (s *Server) version(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, Version{Browser: browserName, ProtocolVersion: protocolVersion})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) attach(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	hub, err := s.GetHub(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := NewConnection(conn, hub, uuid.NewString(), s.config.SendBuffer)
	go c.WritePump()
	if err := hub.Register(c); err != nil {
		s.log.Info().Err(err).Str("target", id).Str("remote", remoteHost(r)).Msg("connection refused")
		return
	}
	go c.ReadPump()
}

func remoteHost(r *http.Request) string {
	if i := strings.LastIndex(r.RemoteAddr, ":"); i > 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}
