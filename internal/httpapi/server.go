package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/doorforge/quotecontrol/internal/autopilot"
	"github.com/doorforge/quotecontrol/internal/config"
	apperrors "github.com/doorforge/quotecontrol/internal/errors"
	"github.com/doorforge/quotecontrol/internal/ratelimit"
	"github.com/doorforge/quotecontrol/internal/resource"
	"github.com/doorforge/quotecontrol/internal/session"
)

// Server wires the fiber application over the session registry,
// resource manager, and autopilot scheduler. Grounded on the teacher's
// internal/server.Server.
type Server struct {
	app        *fiber.App
	cfg        *config.Config
	sessions   *session.Registry
	resources  *resource.Manager
	autopilots *autopilot.Manager
	log        zerolog.Logger
}

// New builds the fiber app, registers middleware and routes, and
// returns a Server ready for Listen. It does not start any background
// task — those lifecycles are owned by the caller, matching the
// registry/resource/autopilot Run methods' scoped start/stop contract.
func New(cfg *config.Config, sessions *session.Registry, resources *resource.Manager, autopilots *autopilot.Manager, log zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "quotecontrol",
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          apperrors.ErrorHandler(log),
	})

	s := &Server{
		app:        app,
		cfg:        cfg,
		sessions:   sessions,
		resources:  resources,
		autopilots: autopilots,
		log:        log,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(metricsMiddleware())
}

// namedChain builds a route's ratelimit decorator from its policy
// list, keyed under routeName for the BucketRoute source and for the
// rejection-count metric's label.
func (s *Server) namedChain(name string, proxy bool, policies ...ratelimit.Policy) fiber.Handler {
	return ratelimitMiddleware(s.sessions, ratelimit.NewChain(policies...), name, proxy)
}

func (s *Server) setupRoutes() {
	proxy := s.cfg.Server.API.Proxy
	namedChain := s.namedChain

	ipPolicy := ratelimit.Policy{Limit: 10, Interval: 60 * time.Second, Bucket: ratelimit.BucketIP}
	loginRoutePolicy := ratelimit.Policy{Limit: 100, Interval: 60 * time.Second, Bucket: ratelimit.BucketRoute}
	tokenPolicy := ratelimit.Policy{Limit: 10, Interval: 60 * time.Second, Bucket: ratelimit.BucketToken}
	userPolicy := ratelimit.Policy{Limit: 10, Interval: 60 * time.Second, Bucket: ratelimit.BucketUser}

	access := validateAccess(s.sessions)
	userOnly := requireRole(s.sessions, false)
	autopilotOnly := requireRole(s.sessions, true)

	auth := s.app.Group("/auth")
	auth.Post("/login", namedChain("auth.login", proxy, ipPolicy, loginRoutePolicy), s.handleLogin)
	auth.Post("/refresh", namedChain("auth.refresh", proxy, ipPolicy, tokenPolicy), s.handleRefresh)
	auth.Post("/logout", namedChain("auth.logout", proxy, ipPolicy, userPolicy), access, s.handleLogout)
	auth.Get("/session", namedChain("auth.session", proxy, ipPolicy, userPolicy), access, s.handleSession)

	rsrc := s.app.Group("/resource/:rtype/:rid", namedChain("resource", proxy, userPolicy), userOnly, access)
	rsrc.Post("/acquire", s.handleAcquire)
	rsrc.Post("/release", s.handleRelease)
	rsrc.Get("/preview", s.handlePreview)
	rsrc.Get("/view", s.handleView)

	s.app.Get("/ws/user", namedChain("ws.user", proxy, tokenPolicy), userOnly, access, s.wsPrepare(), s.handleUserWS())
	s.app.Get("/ws/autopilot", namedChain("ws.autopilot", proxy, tokenPolicy), autopilotOnly, access, s.wsPrepare(), s.handleAutopilotWS())

	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// Listen starts the HTTP server and blocks until it stops or errors.
func (s *Server) Listen() error {
	addr := s.cfg.Server.API.Addr()
	s.log.Info().Str("addr", addr).Msg("listening")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops accepting connections.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(10 * time.Second)
}
