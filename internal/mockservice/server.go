// Package mockservice is an in-process stand-in for the PubNub REST API. It
// serves publish, long-poll subscribe, history, here-now, leave and time from
// an in-memory channel log and presence registry, which is enough to drive
// pubnub.Client end to end in tests, demos and the CLI.
package mockservice

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/pubnub-go/internal/logging"
)

const (
	// DefaultAddr is the listen address used by Start
	DefaultAddr = ":8090"
	// DefaultPollTimeout bounds how long a subscribe request is held open
	DefaultPollTimeout = 20 * time.Second
	// DefaultMaxBatch bounds the messages returned by one subscribe reply
	DefaultMaxBatch = 100
)

// Config contains mock service configuration
type Config struct {
	// Server address
	Addr string

	// Keys accepted by the service. Empty accepts any key.
	PublishKey   string
	SubscribeKey string

	// Long-poll and presence timing
	PollTimeout     time.Duration
	PresenceTimeout time.Duration

	// Messages kept per channel, and returned per subscribe reply
	Retention int
	MaxBatch  int

	// AuthSecret turns on access control: every keyed request must carry an
	// auth key signed with it. Empty admits everyone.
	AuthSecret string

	// Logger defaults to the "mockservice" component logger
	Logger *zerolog.Logger
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	if c.PresenceTimeout <= 0 {
		c.PresenceTimeout = DefaultPresenceTimeout
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
}

// Server is the mock service.
type Server struct {
	config   Config
	logger   zerolog.Logger
	log      *ChannelLog
	presence *Presence
	auth     *Authority
	router   chi.Router
	server   *http.Server

	mu         sync.Mutex
	failStatus int
	failCount  int
}

// New creates a mock service. Nothing listens until Start or Serve.
func New(config Config) *Server {
	config.SetDefaults()
	logger := logging.Component("mockservice")
	if config.Logger != nil {
		logger = *config.Logger
	}

	s := &Server{
		config:   config,
		logger:   logger,
		log:      NewChannelLog(config.Retention),
		presence: NewPresence(config.PresenceTimeout),
	}
	if config.AuthSecret != "" {
		s.auth = NewAuthority(config.AuthSecret)
	}
	s.router = s.setupRoutes()
	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: config.PollTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the service router, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Log returns the channel log backing publish, subscribe and history.
func (s *Server) Log() *ChannelLog {
	return s.log
}

// Presence returns the registry backing here-now and leave.
func (s *Server) Presence() *Presence {
	return s.presence
}

// Authority returns the token issuer, or nil when access control is off.
func (s *Server) Authority() *Authority {
	return s.auth
}

// FailNext makes the next n requests fail with status before routing.
func (s *Server) FailNext(status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
	s.failCount = n
}

// Start listens on the configured address.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.Addr).Msg("starting mock service")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Serve accepts connections on l.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info().Str("addr", l.Addr().String()).Msg("starting mock service")
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close releases held subscribe requests and drops every message.
func (s *Server) Close() error {
	return s.log.Close()
}

// Stop releases held subscribe requests and gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return errors.Join(s.Close(), s.server.Shutdown(ctx))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(s.faults)

	r.Get("/time/{callback}", s.handleTime)

	r.Get("/publish/{pub}/{sub}/{signature}/{channel}/{callback}/{message}", s.handlePublish)
	r.Post("/publish/{pub}/{sub}/{signature}/{channel}/{callback}", s.handlePublish)

	r.Get("/subscribe/{sub}/{channels}/{callback}/{timetoken}", s.handleSubscribe)
	r.Get("/history/{sub}/{channel}/{callback}/{limit}", s.handleHistory)

	r.Get("/v2/presence/sub-key/{sub}/channel/{channels}", s.handleHereNow)
	r.Get("/v2/presence/sub-key/{sub}/channel/{channels}/leave", s.handleLeave)

	return r
}

// faults fails requests queued by FailNext.
func (s *Server) faults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status := 0
		if s.failCount > 0 {
			s.failCount--
			status = s.failStatus
		}
		s.mu.Unlock()

		if status != 0 {
			writeStatus(w, status, "injected fault")
			return
		}
		next.ServeHTTP(w, r)
	})
}
