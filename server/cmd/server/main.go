package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhandras/codetutor/server/internal/api/handlers"
	"github.com/bhandras/codetutor/server/internal/api/middleware"
	"github.com/bhandras/codetutor/server/internal/config"
	"github.com/bhandras/codetutor/server/internal/database"
	"github.com/bhandras/codetutor/server/internal/documents"
	"github.com/bhandras/codetutor/server/internal/executor"
	"github.com/bhandras/codetutor/server/internal/explainer"
	"github.com/bhandras/codetutor/server/internal/session"
	"github.com/bhandras/codetutor/server/internal/session/runtime"
	"github.com/bhandras/codetutor/server/internal/websocket"
	"github.com/bhandras/codetutor/shared/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

// counters reports live session and client counts to the health handler.
type counters struct {
	registry *session.Registry
	ws       *websocket.Server
}

func (c counters) Sessions() int { return c.registry.Len() }
func (c counters) Clients() int  { return c.ws.Connections().GetClientCount() }

func parseFlags() config.Overrides {
	var (
		configFile = flag.String("config", "", "path to a YAML config file")
		addr       = flag.String("addr", "", "listen address (overrides PORT)")
		dbPath     = flag.String("db", "", "SQLite database path")
		uploadDir  = flag.String("uploads", "", "directory for uploaded documents")
		logLevel   = flag.String("log-level", "", "trace, debug, info, warn or error")
		debug      = flag.Bool("debug", false, "enable debug mode")
		tlsCert    = flag.String("tls-cert", "", "PEM certificate chain for HTTPS")
		tlsKey     = flag.String("tls-key", "", "PEM private key for HTTPS")
	)
	flag.Parse()

	var o config.Overrides
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["config"] {
		o.ConfigFile = configFile
	}
	if set["addr"] {
		o.Addr = addr
	}
	if set["db"] {
		o.DatabasePath = dbPath
	}
	if set["uploads"] {
		o.UploadDir = uploadDir
	}
	if set["log-level"] {
		o.LogLevel = logLevel
	}
	if set["debug"] {
		o.Debug = debug
	}
	if *tlsCert != "" || *tlsKey != "" {
		o.TLS = &config.TLSConfig{CertFile: *tlsCert, KeyFile: *tlsKey}
	}
	return o
}

func main() {
	// Load configuration
	cfg, err := config.Load(parseFlags())
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, using info", cfg.LogLevel)
		level = logger.LevelInfo
	}
	logger.SetLevel(level)

	// Set Gin mode
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		logger.Errorf("Server failed: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open database
	logger.Infof("Opening database: %s", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	docs, err := documents.NewStore(db, documents.StoreConfig{
		UploadDir: cfg.UploadDir,
		MaxBytes:  cfg.MaxFileSize,
	})
	if err != nil {
		return err
	}

	exec := executor.NewLocal(executor.Config{
		Commands:       cfg.Executor.Commands,
		Timeout:        cfg.Executor.Timeout,
		MaxOutputBytes: cfg.Executor.MaxOutputBytes,
		WorkDir:        cfg.Executor.WorkDir,
	})
	for lang, ok := range exec.Available() {
		if !ok {
			logger.Warnf("Interpreter for %s not found; %s runs will fail", lang, lang)
		}
	}

	explain, mode, err := newExplainer(cfg.LLM)
	if err != nil {
		return err
	}
	logger.Infof("Explainer: %s", mode)

	driver, err := runtime.NewDriver(runtime.DriverConfig{
		Executor:   exec,
		Explainer:  explain,
		Retriever:  docs,
		RunTimeout: cfg.Session.RunTimeout,
		References: cfg.Session.References,
	})
	if err != nil {
		return err
	}

	registry := session.NewRegistry(driver, session.Config{
		GracePeriod: cfg.Session.GracePeriod,
		IdleTTL:     cfg.Session.IdleTTL,
	})
	go registry.Run(ctx)

	wsServer := websocket.NewServer(registry, websocket.Config{
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		MaxMessageBytes:  cfg.WebSocket.MaxMessageBytes,
		QueueSize:        cfg.WebSocket.QueueSize,
		CloseOnMalformed: cfg.WebSocket.CloseOnMalformed,
	})
	defer wsServer.Shutdown()

	// Create Gin router
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// Logging middleware
	router.Use(middleware.LoggingMiddleware())

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(exec, docs, counters{registry: registry, ws: wsServer}, mode)
	documentHandler := handlers.NewDocumentHandler(docs)
	sessionHandler := handlers.NewSessionHandler(registry)

	router.GET("/", handlers.Root)
	router.GET("/health", healthHandler.Health)
	router.POST("/upload-document", documentHandler.Upload)
	router.GET("/ws/:client_id", wsServer.HandleWebSocket)

	v1 := router.Group("/v1")
	{
		v1.GET("/documents", documentHandler.ListDocuments)
		v1.GET("/sessions/:client_id", sessionHandler.GetSession)
		v1.DELETE("/sessions/:client_id", sessionHandler.DeleteSession)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLS != nil {
			logger.Infof("Code tutor server starting on https://%s", cfg.Addr)
			errCh <- srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		logger.Infof("Code tutor server starting on http://%s", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by http.Server.
	wsServer.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newExplainer returns the LLM explainer when an API key is configured and
// the offline explainer otherwise, along with a name for the health report.
func newExplainer(cfg config.LLMConfig) (runtime.Explainer, string, error) {
	if cfg.APIKey == "" {
		return explainer.NewOffline(explainer.OfflineConfig{}), "offline", nil
	}
	llm, err := explainer.NewLLM(explainer.LLMConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
	})
	if err != nil {
		return nil, "", err
	}
	return llm, "llm:" + llm.Model(), nil
}
