// Package server is the HTTP surface: auth, briefing generation,
// briefing CRUD, audio streaming, and the admin reporting endpoints.
package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/briefcast/briefcast/internal/auth"
	"github.com/briefcast/briefcast/internal/briefing"
	"github.com/briefcast/briefcast/internal/config"
	"github.com/briefcast/briefcast/internal/ledger"
	"github.com/briefcast/briefcast/internal/storage"
	"github.com/briefcast/briefcast/internal/store"
)

// Server wires the fiber app to the domain services.
type Server struct {
	app    *fiber.App
	cfg    config.Config
	store  *store.Store
	ledger *ledger.Ledger
	orch   *briefing.Orchestrator
	blobs  storage.Blob
	tokens *auth.TokenIssuer
	log    *slog.Logger
	now    func() time.Time
}

// New builds the app and registers every route.
func New(cfg config.Config, st *store.Store, l *ledger.Ledger, orch *briefing.Orchestrator, blobs storage.Blob, tokens *auth.TokenIssuer, log *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  st,
		ledger: l,
		orch:   orch,
		blobs:  blobs,
		tokens: tokens,
		log:    log,
		now:    time.Now,
	}

	app := fiber.New(fiber.Config{
		AppName:               "briefcast",
		DisableStartupMessage: true,
		BodyLimit:             4 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(cors.New())
	app.Use(s.requestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Post("/auth/register", s.handleRegister)
	api.Post("/auth/login", s.handleLogin)
	api.Post("/auth/logout", s.requireAuth, s.handleLogout)
	api.Get("/auth/me", s.requireAuth, s.handleMe)

	api.Post("/generate-briefing", s.requireAuth, s.handleGenerateBriefing)

	api.Post("/briefings", s.requireAuth, s.handleSaveBriefing)
	api.Get("/briefings", s.requireAuth, s.handleListBriefings)
	api.Get("/briefings/:id", s.requireAuth, s.handleGetBriefing)
	api.Delete("/briefings/:id", s.requireAuth, s.handleDeleteBriefing)

	// Audio is fetched by <audio> elements which cannot send headers, so
	// it is served without auth, same as briefing links.
	api.Get("/audio/:filename", s.handleAudio)

	admin := api.Group("/admin", s.requireAuth, s.requireAdmin)
	admin.Get("/overview", s.handleAdminOverview)
	admin.Get("/cost-estimate", s.handleAdminCostEstimate)
	admin.Get("/users", s.handleAdminUsers)
	admin.Get("/users/:id", s.handleAdminUserDetail)
	admin.Patch("/users/:id", s.handleAdminUserPatch)
	admin.Delete("/users/:id", s.handleAdminUserDelete)

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until Shutdown or a listener error.
func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := s.now()
		err := c.Next()
		if c.Path() == "/health" {
			return err
		}
		s.log.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration", time.Since(start).Round(time.Millisecond).String(),
			"ip", c.IP(),
		)
		return err
	}
}
