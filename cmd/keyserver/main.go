package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/Renetatomm/renetato-s-executor/internal/admin"
	"github.com/Renetatomm/renetato-s-executor/internal/api"
	"github.com/Renetatomm/renetato-s-executor/internal/commits"
	"github.com/Renetatomm/renetato-s-executor/internal/config"
	"github.com/Renetatomm/renetato-s-executor/internal/db"
	"github.com/Renetatomm/renetato-s-executor/internal/keymanager"
	"github.com/Renetatomm/renetato-s-executor/internal/logger"
	"github.com/Renetatomm/renetato-s-executor/internal/middleware"
	"github.com/Renetatomm/renetato-s-executor/internal/scheduler"
	"github.com/Renetatomm/renetato-s-executor/internal/telemetry"

	"github.com/gin-gonic/gin"
)

// throttleIdle is how long an address may stay silent before its throttle bucket is dropped.
const throttleIdle = 10 * time.Minute

// customRecovery is a middleware that recovers from panics and handles http.ErrAbortHandler gracefully.
func customRecovery(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				if recovered == http.ErrAbortHandler {
					log.Warn("Client connection aborted", "path", c.Request.URL.Path)
					c.Abort()
					return
				}

				log.Error("Panic recovered",
					"error", recovered,
					"path", c.Request.URL.Path,
					"stack", string(debug.Stack()),
				)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// app bundles the long-lived components built from the configuration.
type app struct {
	router    *gin.Engine
	keys      *keymanager.KeyManager
	throttle  *middleware.Throttle
	scheduler *scheduler.Scheduler
}

// newApp wires the key manager, routes and jobs. dbService may be nil.
func newApp(cfg *config.Config, log *slog.Logger, dbService db.Service) (*app, error) {
	lister, err := commits.NewLister(cfg.GitHub, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit lister: %w", err)
	}

	var audit keymanager.AuditRecorder
	if dbService != nil {
		audit = dbService
	}
	keys := keymanager.NewKeyManager(cfg, audit, log)

	var throttle *middleware.Throttle
	var throttleHandler gin.HandlerFunc
	if !cfg.Throttle.Disabled {
		throttle = middleware.NewThrottle(cfg.Throttle.RPS, cfg.Throttle.Burst, log)
		throttleHandler = throttle.Middleware()
	}

	sched := scheduler.NewScheduler(log)
	if err := registerJobs(sched, cfg, keys, throttle, dbService, log); err != nil {
		keys.Close()
		return nil, err
	}

	router := gin.New()
	router.Use(customRecovery(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())

	// If debug mode is enabled, add the logger middleware
	if cfg.Debug {
		router.Use(gin.Logger())
	}

	router.GET("/metrics", gin.WrapH(telemetry.Handler()))
	api.SetupRoutes(router, api.NewHandler(keys, lister, cfg.Owner.IP, log), throttleHandler)
	admin.SetupRoutes(router, keys, dbService, cfg, log)

	return &app{router: router, keys: keys, throttle: throttle, scheduler: sched}, nil
}

// registerJobs schedules the maintenance jobs. Jobs with an empty spec stay disabled.
func registerJobs(s *scheduler.Scheduler, cfg *config.Config, keys keymanager.Manager, throttle *middleware.Throttle, dbService db.Service, log *slog.Logger) error {
	err := s.Register("prune-cooldowns", cfg.Scheduler.RateLimitPrune, func() {
		removed := keys.PruneCooldowns()
		if throttle != nil {
			removed += throttle.Prune(throttleIdle)
		}
		log.Debug("Pruned rate-limit entries", "count", removed)
	})
	if err != nil {
		return err
	}

	if err := s.Register("sweep-keys", cfg.Scheduler.KeySweep, func() { keys.Sweep() }); err != nil {
		return err
	}

	if dbService == nil {
		return nil
	}
	retention := cfg.Database.RetentionDuration()
	return s.Register("purge-audit-events", cfg.Scheduler.AuditPurge, func() {
		purged, err := dbService.PurgeEventsBefore(time.Now().Add(-retention))
		if err != nil {
			log.Error("Failed to purge audit events", "error", err)
			return
		}
		log.Info("Purged audit events", "count", purged, "retention", retention)
	})
}

func setupAndRunServer(cfg *config.Config, log *slog.Logger, dbService db.Service) error {
	a, err := newApp(cfg, log, dbService)
	if err != nil {
		return err
	}
	a.scheduler.Start()
	log.Info("Scheduler started", "jobs", a.scheduler.Jobs())

	// Create and start the main server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: a.router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		a.scheduler.Stop()
		a.keys.Close()
		return fmt.Errorf("failed to start server: %w", err)
	case <-quit:
	}
	log.Info("Shutting down server...")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	shutdownErr := server.Shutdown(ctx)
	a.scheduler.Stop()
	// Drain pending audit events only after no handler can produce more.
	a.keys.Close()
	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}

	log.Info("Server exiting")
	return nil
}

func main() {
	configPath := "config.yaml"
	if p := os.Getenv("KEYSERVER_CONFIG"); p != "" {
		configPath = p
	}

	// Load configuration
	cfg, warning, err := config.LoadConfig(configPath)
	if err != nil {
		// Use a temporary logger for startup errors
		slog.Error("Error loading configuration", "error", err)
		os.Exit(1)
	}

	// Setup logger
	log := logger.New(cfg.Debug)
	log.Info("Logger initialized", "debug_mode", cfg.Debug)
	if warning != "" {
		log.Warn(warning)
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	var dbService db.Service
	if cfg.Database.Enabled() {
		dbService, err = db.NewService(cfg.Database)
		if err != nil {
			log.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer dbService.Close()
		log.Info("Database initialized", "type", cfg.Database.Type)
	}

	if err := setupAndRunServer(cfg, log, dbService); err != nil {
		log.Error("Server error", "error", err)
		os.Exit(1)
	}
}
