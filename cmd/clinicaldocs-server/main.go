package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/clinicaldocs/internal/config"
	"github.com/ehr/clinicaldocs/internal/domain/notedocument"
	"github.com/ehr/clinicaldocs/internal/domain/notesection"
	"github.com/ehr/clinicaldocs/internal/domain/notetemplate"
	"github.com/ehr/clinicaldocs/internal/domain/visitnote"
	"github.com/ehr/clinicaldocs/internal/platform/auth"
	"github.com/ehr/clinicaldocs/internal/platform/db"
	"github.com/ehr/clinicaldocs/internal/platform/middleware"
	"github.com/ehr/clinicaldocs/internal/platform/noterender"
	"github.com/ehr/clinicaldocs/internal/platform/notification"
	"github.com/ehr/clinicaldocs/internal/platform/openapi"
	"github.com/ehr/clinicaldocs/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinicaldocs-server",
		Short:        "Clinical note sections, templates and document rendering",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(sectionsCmd())
	rootCmd.AddCommand(renderCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the documentation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// services is the domain layer shared by the server and the CLI commands.
type services struct {
	sections  *notesection.Service
	templates *notetemplate.Service
	documents *notedocument.Service
}

func newServices(pool *pgxpool.Pool, cfg *config.Config, pub notification.Publisher, logger zerolog.Logger) *services {
	sectionSvc := notesection.NewService(notesection.NewRepo(pool), pool, pub)
	templateSvc := notetemplate.NewService(notetemplate.NewRepo(pool), sectionSvc, pool, pub)
	// Deleting a section detaches it from every template in the same transaction.
	sectionSvc.OnDelete(templateSvc.DetachSection)

	docSvc := notedocument.NewService(visitnote.NewRepo(pool), templateSvc, notedocument.OptionsFromConfig(cfg), logger)
	return &services{sections: sectionSvc, templates: templateSvc, documents: docSvc}
}

// newServer builds the echo instance with middleware and routes.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Public endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	spec := openapi.NewGenerator(version, fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port))
	if _, err := spec.Document(context.Background()); err != nil {
		return nil, err
	}
	spec.RegisterRoutes(e)

	// Tenant-scoped API
	apiV1 := e.Group("/api/v1")
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	apiV1.Use(middleware.Audit(logger))

	hub := websocket.NewHub(logger)
	recent := notification.NewRecent(200)
	bus := notification.NewBus(logger,
		notification.LogSink(logger),
		recent,
		notification.WebSocketSink(hub),
	)

	svcs := newServices(pool, cfg, bus, logger)
	registerRoutes(apiV1, svcs, recent, hub, cfg.CORSOrigins)
	return e, nil
}

func registerRoutes(api *echo.Group, svcs *services, recent *notification.Recent, hub *websocket.Hub, origins []string) {
	notesection.NewHandler(svcs.sections).RegisterRoutes(api)
	notetemplate.NewHandler(svcs.templates).RegisterRoutes(api)
	notedocument.NewHandler(svcs.documents, noterender.NewRegistry()).RegisterRoutes(api)
	notification.NewHandler(recent).RegisterRoutes(api)
	websocket.NewHandler(hub, origins).RegisterRoutes(api)
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e, err := newServer(cfg, logger, pool)
	if err != nil {
		return err
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("section_order", cfg.RenderSectionOrder).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
