// @title           LexDesk Client Portal API
// @version         1.0
// @description     Law office client portal: clients, cases with stages and timeline, documents, payments and notifications.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"context"
	"log/slog"
	"net"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"gorm.io/gorm"

	_ "github.com/lexdesk/portal-backend/docs"
	"github.com/lexdesk/portal-backend/internal/audit"
	"github.com/lexdesk/portal-backend/internal/auth"
	"github.com/lexdesk/portal-backend/internal/cases"
	"github.com/lexdesk/portal-backend/internal/casestate"
	"github.com/lexdesk/portal-backend/internal/clients"
	"github.com/lexdesk/portal-backend/internal/config"
	"github.com/lexdesk/portal-backend/internal/documents"
	"github.com/lexdesk/portal-backend/internal/logging"
	"github.com/lexdesk/portal-backend/internal/metrics"
	"github.com/lexdesk/portal-backend/internal/notifications"
	"github.com/lexdesk/portal-backend/internal/notify"
	"github.com/lexdesk/portal-backend/internal/paymentgw"
	"github.com/lexdesk/portal-backend/internal/payments"
	"github.com/lexdesk/portal-backend/internal/server"
	"github.com/lexdesk/portal-backend/internal/storage"
	"github.com/lexdesk/portal-backend/pkg/database"
)

func main() {
	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: log}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		injectInfra(),
		injectDomain(),
		injectHandler(),
		fx.Invoke(startServer),
	).Run()
}

func injectInfra() fx.Option {
	return fx.Provide(
		config.Load,
		newLogger,
		newRegistry,
		metrics.New,
		newDB,
		newStore,
		newProcessor,
		newPolicy,
	)
}

func injectDomain() fx.Option {
	return fx.Provide(
		newTokens,
		audit.NewRecorder,
		notify.NewService,
	)
}

func injectHandler() fx.Option {
	return fx.Provide(
		newAuthHandler,
		newClientsHandler,
		cases.NewHandler,
		newDocumentsHandler,
		payments.NewHandler,
		notifications.NewHandler,
		newApp,
	)
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	log, err := logging.New(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return log, nil
}

// newRegistry returns a private registry exposed as both registerer and gatherer.
func newRegistry() (prometheus.Registerer, prometheus.Gatherer) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg, reg
}

func newDB(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	db, err := database.Connect(cfg.DatabaseURL, cfg.IsProduction())
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			log.Info("closing database")
			return database.Close(db)
		},
	})
	return db, nil
}

func newStore(lc fx.Lifecycle, cfg *config.Config) (storage.BlobStore, error) {
	store, closeFn, err := storage.New(context.Background(), storage.Options{
		Driver:         cfg.StorageDriver,
		Dir:            cfg.StorageDir,
		SupabaseURL:    cfg.SupabaseURL,
		SupabaseKey:    cfg.SupabaseServiceKey,
		SupabaseBucket: cfg.SupabaseBucket,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return closeFn() }})
	return store, nil
}

func newProcessor(cfg *config.Config) (paymentgw.Processor, error) {
	return paymentgw.New(cfg.PaymentProvider, cfg.StripeSecretKey)
}

func newPolicy(cfg *config.Config) (casestate.TransitionPolicy, error) {
	return casestate.PolicyByName(cfg.CaseStatusPolicy)
}

func newTokens(cfg *config.Config) *auth.Tokens {
	return auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
}

func newAuthHandler(db *gorm.DB, t *auth.Tokens, rec *audit.Recorder, log *slog.Logger, cfg *config.Config) *auth.Handler {
	return auth.NewHandler(db, t, rec, log, cfg.TOTPIssuer)
}

func newClientsHandler(db *gorm.DB, rec *audit.Recorder, cfg *config.Config) *clients.Handler {
	return clients.NewHandler(db, rec, cfg.NoEmailDomain)
}

func newDocumentsHandler(db *gorm.DB, store storage.BlobStore, rec *audit.Recorder, ns *notify.Service, log *slog.Logger, cfg *config.Config) *documents.Handler {
	return documents.NewHandler(db, store, rec, ns, log, cfg.MaxUploadBytes())
}

type appParams struct {
	fx.In

	Config        *config.Config
	DB            *gorm.DB
	Log           *slog.Logger
	Tokens        *auth.Tokens
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	Auth          *auth.Handler
	Clients       *clients.Handler
	Cases         *cases.Handler
	Documents     *documents.Handler
	Payments      *payments.Handler
	Notifications *notifications.Handler
}

func newApp(p appParams) *fiber.App {
	return server.New(server.Deps{
		DB:            p.DB,
		Log:           p.Log,
		Tokens:        p.Tokens,
		Metrics:       p.Metrics,
		Gatherer:      p.Gatherer,
		Auth:          p.Auth,
		Clients:       p.Clients,
		Cases:         p.Cases,
		Documents:     p.Documents,
		Payments:      p.Payments,
		Notifications: p.Notifications,
		// multipart overhead on top of the file itself
		BodyLimit:   int(p.Config.MaxUploadBytes()) + 1<<20,
		CORSOrigins: p.Config.CORSOrigins,
	})
}

func startServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config, log *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", ":"+cfg.Port)
			if err != nil {
				return errors.Wrap(err, "listen")
			}
			log.Info("server running", slog.String("addr", ln.Addr().String()), slog.String("env", cfg.AppEnv))
			go func() {
				if err := app.Listener(ln); err != nil {
					log.Error("server stopped", slog.Any("error", err))
					os.Exit(1)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server")
			return app.ShutdownWithContext(ctx)
		},
	})
}
