package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/config"
	"github.com/landrop-server/landrop-server/internal/connect"
	"github.com/landrop-server/landrop-server/internal/events"
	"github.com/landrop-server/landrop-server/internal/history"
	"github.com/landrop-server/landrop-server/internal/receive"
	"github.com/landrop-server/landrop-server/internal/registry"
	"github.com/landrop-server/landrop-server/internal/validation"
)

// Server hosts the LocalSend v2 transfer API plus a small local control
// surface for reading registries and resolving pending acceptances.
type Server struct {
	config    *config.Config
	devices   *registry.DeviceRegistry
	sessions  *registry.SessionRegistry
	pending   *registry.PendingAcceptances
	engine    *receive.Engine
	sink      events.Sink
	history   history.Store
	validator *validation.Validator
	resolver  *connect.Resolver
	router    chi.Router
	server    *http.Server
}

// NewServer creates the transfer API server. history may be nil.
func NewServer(cfg *config.Config, devices *registry.DeviceRegistry, sessions *registry.SessionRegistry, engine *receive.Engine, sink events.Sink, hist history.Store) *Server {
	s := &Server{
		config:    cfg,
		devices:   devices,
		sessions:  sessions,
		pending:   registry.NewPendingAcceptances(),
		engine:    engine,
		sink:      sink,
		history:   hist,
		validator: validation.NewValidator(),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler: s.router,
		// no WriteTimeout: prepare-upload legitimately holds the
		// response for up to the acceptance window
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Range"},
		MaxAge:         300,
	}))

	s.router.Route("/api/localsend/v2", func(r chi.Router) {
		r.Post("/register", s.HandleRegister)
		r.Post("/prepare-upload", s.HandlePrepareUpload)
		r.Get("/upload", s.HandleUploadProbe)
		r.Post("/upload", s.HandleUpload)
		r.Post("/cancel", s.HandleCancel)
		r.Get("/info", s.HandleInfo)
	})

	s.router.Route("/api/landrop/v1", func(r chi.Router) {
		s.setupLocalRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	s.server.Addr = addr

	log.Info().Str("addr", addr).Msg("Starting transfer API server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// SetResolver wires the manual connect resolver into the local control
// surface. Optional; without it POST /connect answers 503.
func (s *Server) SetResolver(r *connect.Resolver) {
	s.resolver = r
}

// Router exposes the handler tree for tests and the TLS proxy target.
func (s *Server) Router() http.Handler {
	return s.router
}

// AcceptSession resolves a pending acceptance positively. Returns false
// when the session is unknown or already decided.
func (s *Server) AcceptSession(sessionID string) bool {
	return s.pending.Resolve(sessionID, true)
}

// RejectSession resolves a pending acceptance negatively.
func (s *Server) RejectSession(sessionID string) bool {
	return s.pending.Resolve(sessionID, false)
}

// respondJSON responds with JSON
func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// remoteIP extracts the caller's address without the port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
