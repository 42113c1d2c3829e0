// Package server assembles the Fiber application and its route table.
package server

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	fiberSwagger "github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/lexdesk/portal-backend/internal/auth"
	"github.com/lexdesk/portal-backend/internal/cases"
	"github.com/lexdesk/portal-backend/internal/clients"
	"github.com/lexdesk/portal-backend/internal/documents"
	"github.com/lexdesk/portal-backend/internal/logging"
	"github.com/lexdesk/portal-backend/internal/metrics"
	"github.com/lexdesk/portal-backend/internal/notifications"
	"github.com/lexdesk/portal-backend/internal/payments"
	"github.com/lexdesk/portal-backend/internal/permissions"
)

// Deps is everything the route table needs.
type Deps struct {
	DB       *gorm.DB
	Log      *slog.Logger
	Tokens   *auth.Tokens
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Auth          *auth.Handler
	Clients       *clients.Handler
	Cases         *cases.Handler
	Documents     *documents.Handler
	Payments      *payments.Handler
	Notifications *notifications.Handler

	BodyLimit   int
	CORSOrigins string
}

func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          auth.NewErrorHandler(d.Log),
		BodyLimit:             d.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: d.CORSOrigins,
		AllowHeaders: strings.Join([]string{
			fiber.HeaderOrigin, fiber.HeaderContentType, fiber.HeaderAccept,
			fiber.HeaderAuthorization, fiber.HeaderXRequestID,
		}, ","),
	}))
	app.Use(logging.RequestLogger(d.Log))
	app.Use(d.Metrics.Middleware())

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })
	if d.Gatherer != nil {
		app.Get("/metrics", metrics.Handler(d.Gatherer))
	}
	app.Get("/swagger/*", fiberSwagger.HandlerDefault)

	api := app.Group("/api")
	requireAuth := auth.RequireAuth(d.DB, d.Tokens)

	// Auth
	a := api.Group("/auth")
	a.Post("/register", d.Auth.Register)
	a.Post("/login", d.Auth.Login)
	a.Get("/me", requireAuth, d.Auth.Me)
	a.Put("/me", requireAuth, d.Auth.UpdateMe)
	a.Post("/change-password", requireAuth, d.Auth.ChangePassword)
	a.Post("/2fa/setup", requireAuth, d.Auth.SetupTOTP)
	a.Post("/2fa/enable", requireAuth, d.Auth.EnableTOTP)
	a.Post("/2fa/disable", requireAuth, d.Auth.DisableTOTP)

	// Admin (staff)
	adm := api.Group("/admin", requireAuth, permissions.Guard(permissions.StaffOnly))
	adm.Get("/statistics", d.Clients.Statistics)
	adm.Get("/clients", d.Clients.List)
	adm.Post("/clients", d.Clients.Create)
	adm.Get("/clients/:id", d.Clients.Get)
	adm.Put("/clients/:id", d.Clients.Update)
	adm.Put("/clients/:id/role", permissions.Guard(permissions.AdminOnly), d.Clients.SetRole)
	adm.Put("/clients/:id/active", d.Clients.SetActive)

	// Cases
	cs := api.Group("/cases", requireAuth)
	cs.Post("/", d.Cases.Create)
	cs.Get("/", d.Cases.List)
	cs.Get("/:id", d.Cases.Get)
	cs.Put("/:id", d.Cases.Update)
	cs.Delete("/:id", d.Cases.Delete)
	cs.Get("/:id/timeline", d.Cases.ListTimeline)
	cs.Post("/:id/timeline", d.Cases.CreateTimelineEvent)

	// Documents
	docs := api.Group("/documents", requireAuth)
	docs.Post("/upload", d.Documents.Upload)
	docs.Get("/", d.Documents.List)
	docs.Get("/:id", d.Documents.Get)
	docs.Get("/:id/download", d.Documents.Download)
	docs.Delete("/:id", d.Documents.Delete)

	// Payments; static paths before :id
	pay := api.Group("/payments", requireAuth)
	pay.Post("/", d.Payments.Create)
	pay.Get("/", d.Payments.List)
	pay.Get("/mine", d.Payments.Mine)
	pay.Get("/:id", d.Payments.Get)
	pay.Put("/:id", d.Payments.Update)
	pay.Delete("/:id", d.Payments.Delete)
	pay.Post("/:id/charge", d.Payments.Charge)

	// Notifications
	n := api.Group("/notifications", requireAuth)
	n.Get("/", d.Notifications.List)
	n.Get("/unread-count", d.Notifications.UnreadCount)
	n.Put("/read-all", d.Notifications.MarkAllRead)
	n.Put("/:id/read", d.Notifications.MarkRead)

	return app
}
