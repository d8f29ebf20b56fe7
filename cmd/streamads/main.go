package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"streamads/internal/admin"
	"streamads/internal/auth"
	"streamads/internal/config"
	"streamads/internal/db"
	"streamads/internal/events"
	"streamads/internal/gkey"
	"streamads/internal/gkeyapi"
	"streamads/internal/logger"
	"streamads/internal/proxy"
	"streamads/internal/scheduler"

	"github.com/gin-gonic/gin"
)

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
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
		}()
		c.Next()
	}
}

// routerDeps is everything the HTTP surface needs.
type routerDeps struct {
	gkeys    gkey.Manager
	db       db.Service
	verifier *auth.Verifier
	proxy    *proxy.Proxy
	logger   *slog.Logger
	debug    bool
}

func newRouter(deps routerDeps) *gin.Engine {
	router := gin.New()
	// Use our custom recovery middleware instead of the default one.
	router.Use(customRecovery(deps.logger))

	// If debug mode is enabled, add the logger middleware
	if deps.debug {
		router.Use(gin.Logger())
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gkeyapi.SetupRoutes(router, deps.gkeys, deps.db, deps.verifier, deps.logger)
	admin.SetupRoutes(router, deps.gkeys, deps.db, deps.verifier, deps.logger)
	proxy.RegisterRoutes(router, deps.proxy, deps.verifier, proxy.DefaultRoutes)

	return router
}

func main() {
	// Load configuration
	cfg, warning, err := config.LoadConfig("config.yaml")
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

	// Initialize database
	dbService, err := db.NewService(cfg.Database)
	if err != nil {
		log.Error("Error initializing database", "error", err)
		os.Exit(1)
	}
	log.Info("Database initialized", "type", cfg.Database.Type)

	// Event bus and the notifier feeding user inboxes
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	bus := events.NewBus(cfg.Events.BufferSize, log)
	messages, err := bus.Subscribe(ctx)
	if err != nil {
		log.Error("Error subscribing to G-Key events", "error", err)
		os.Exit(1)
	}
	notifierDone := make(chan struct{})
	go func() {
		defer close(notifierDone)
		events.NewNotifier(dbService, log).Run(ctx, messages)
	}()

	gkeyService := gkey.NewService(dbService, bus, log)

	// Start the scheduler
	sched := scheduler.NewScheduler(gkeyService, cfg.Scheduler.CooloffSweep, log)
	if err := sched.Start(); err != nil {
		log.Error("Error starting scheduler", "error", err)
		os.Exit(1)
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		log.Error("Error creating session verifier", "error", err)
		os.Exit(1)
	}

	backendProxy, err := proxy.New(cfg.Backend, log)
	if err != nil {
		log.Error("Error creating backend proxy", "error", err)
		os.Exit(1)
	}

	router := newRouter(routerDeps{
		gkeys:    gkeyService,
		db:       dbService,
		verifier: verifier,
		proxy:    backendProxy,
		logger:   log,
		debug:    cfg.Debug,
	})

	// Create and start the main server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info("Starting server", "port", cfg.Port, "backend", cfg.Backend.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	// Stop background work once no request can publish any more
	sched.Stop()
	stop()
	if err := bus.Close(); err != nil {
		log.Warn("Error closing event bus", "error", err)
	}
	<-notifierDone

	log.Info("Server exiting")
}
