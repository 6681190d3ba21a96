// Package api provides the HTTP server of the proxy: middleware, client
// authentication, the Claude routes and the operational endpoints. The
// backend collaborators are rebuilt and swapped when the configuration
// reloads.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/BoostProxy/internal/api/middleware"
	"github.com/router-for-me/BoostProxy/internal/boost"
	"github.com/router-for-me/BoostProxy/internal/buildinfo"
	"github.com/router-for-me/BoostProxy/internal/config"
	apperrors "github.com/router-for-me/BoostProxy/internal/errors"
	"github.com/router-for-me/BoostProxy/internal/logging"
	"github.com/router-for-me/BoostProxy/internal/orchestrator"
	"github.com/router-for-me/BoostProxy/internal/runtime/executor"
	"github.com/router-for-me/BoostProxy/internal/translator/translator"
	"github.com/router-for-me/BoostProxy/internal/transport"
	"github.com/router-for-me/BoostProxy/internal/util"
	"github.com/router-for-me/BoostProxy/sdk/api/handlers"
	"github.com/router-for-me/BoostProxy/sdk/api/handlers/claude"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ClientsBuilder creates the request collaborators for a configuration.
type ClientsBuilder func(cfg *config.Config, reg *transport.Registry) (*handlers.Clients, error)

type serverOptionConfig struct {
	extraMiddleware []gin.HandlerFunc
	buildClients    ClientsBuilder
}

// ServerOption customises HTTP server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends additional Gin middleware during server construction.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithClientsBuilder replaces BuildClients, mainly for tests.
func WithClientsBuilder(fn ClientsBuilder) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.buildClients = fn
	}
}

// BuildClients wires the execution backend, the converter and, when boost
// support is enabled, a boost client driving an orchestrator.
func BuildClients(cfg *config.Config, reg *transport.Registry) (*handlers.Clients, error) {
	exec, err := executor.NewOpenAIExecutor(executor.OptionsFromConfig(cfg), reg)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend executor: %w", err)
	}
	if !translator.NeedConvert("claude", "openai") {
		return nil, errors.New("no claude/openai response translator registered")
	}
	conv := translator.NewConverter(cfg)
	clients := &handlers.Clients{Cfg: cfg, Converter: conv, Executor: exec}

	if cfg.Boost.Enabled == config.TierNone {
		return clients, nil
	}
	bc, err := boost.NewClient(boost.Options{
		BaseURL:  cfg.Boost.BaseURL,
		APIKey:   cfg.Boost.APIKey,
		Model:    cfg.Boost.Model,
		Timeout:  cfg.RequestTimeout(),
		ProxyURL: cfg.ProxyURL,
		Template: cfg.Boost.WrapperTemplate,
	}, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to create boost client: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	bc.StartEviction(ctx)
	clients.Boost = orchestrator.New(bc, exec, conv, cfg.Boost.MaxIterations)
	clients.Release = cancel
	return clients, nil
}

// Server represents the main API server.
type Server struct {
	engine *gin.Engine
	server *http.Server

	handlers     *handlers.BaseAPIHandler
	buildClients ClientsBuilder
	registry     *transport.Registry
	tracker      *middleware.ConnectionTracker

	// cfg holds the current configuration snapshot.
	cfg atomic.Pointer[config.Config]
}

// NewServer builds the engine, middleware, routes and collaborators for cfg.
// reg supplies pooled HTTP clients; the caller closes it after Stop.
func NewServer(cfg *config.Config, reg *transport.Registry, opts ...ServerOption) (*Server, error) {
	optionState := &serverOptionConfig{buildClients: BuildClients}
	for i := range opts {
		opts[i](optionState)
	}

	clients, err := optionState.buildClients(cfg, reg)
	if err != nil {
		return nil, err
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	middleware.SetMetricsEnabled(cfg.IsMetricsEnabled())

	s := &Server{
		engine:       engine,
		handlers:     handlers.NewBaseAPIHandlers(clients),
		buildClients: optionState.buildClients,
		registry:     reg,
		tracker:      &middleware.ConnectionTracker{},
	}
	s.cfg.Store(cfg)

	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(s.tracker.Track())
	engine.Use(middleware.PrometheusMiddleware())
	engine.Use(corsMiddleware())
	engine.Use(middleware.RequestDecompressionMiddleware())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s, nil
}

// Handler exposes the engine, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// InFlight reports the number of requests being served.
func (s *Server) InFlight() int64 { return s.tracker.Count() }

func (s *Server) setupRoutes() {
	claudeHandlers := claude.NewClaudeCodeAPIHandler(s.handlers)
	auth := authMiddleware(s.getConfig)

	v1 := s.engine.Group("/v1")
	v1.Use(auth)
	{
		v1.POST("/messages", claudeHandlers.ClaudeMessages)
		v1.POST("/messages/count_tokens", claudeHandlers.ClaudeCountTokens)
		v1.GET("/models", claudeHandlers.ClaudeModels)
	}

	s.engine.GET("/health", s.health)
	s.engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "port": s.getConfig().Port})
	})
	s.engine.GET("/test-connection", s.testConnection)
	s.engine.GET("/metrics", middleware.MetricsHandler())
	s.engine.GET("/", s.root)
}

func (s *Server) health(c *gin.Context) {
	cfg := s.getConfig()
	c.JSON(http.StatusOK, gin.H{
		"status":                    "healthy",
		"timestamp":                 time.Now().UTC().Format(time.RFC3339),
		"openai_api_configured":     cfg.Backend.APIKey != "",
		"client_api_key_validation": cfg.AnthropicAPIKey != "" || len(cfg.APIKeys) > 0,
		"boost_enabled":             cfg.Boost.Enabled,
		"in_flight":                 s.tracker.Count(),
	})
}

// testConnection sends a tiny completion to the small model.
func (s *Server) testConnection(c *gin.Context) {
	cl := s.handlers.Clients()
	model := cl.Cfg.Models.Small
	body := fmt.Appendf(nil, `{"model":%q,"messages":[{"role":"user","content":"Hello"}],"max_tokens":5}`, model)

	resp, err := cl.Executor.ExecuteWithRetry(c.Request.Context(), body, handlers.RequestID(c))
	now := time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		log.Errorf("connection test failed: %v", err)
		appErr := apperrors.Upstream(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "failed",
			"error_type": appErr.Code,
			"message":    appErr.Message,
			"timestamp":  now,
			"suggestions": []string{
				"Check your OPENAI_API_KEY is valid",
				"Verify OPENAI_BASE_URL is reachable",
				"Check your API key has the necessary permissions",
			},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"message":     "Successfully connected to the backend API",
		"model_used":  model,
		"timestamp":   now,
		"response_id": gjson.GetBytes(resp, "id").String(),
	})
}

func (s *Server) root(c *gin.Context) {
	cfg := s.getConfig()
	c.JSON(http.StatusOK, gin.H{
		"message": "BoostProxy " + buildinfo.Version,
		"status":  "running",
		"config": gin.H{
			"openai_base_url":           cfg.Backend.BaseURL,
			"max_tokens_limit":          cfg.Models.MaxTokensLimit,
			"api_key_configured":        cfg.Backend.APIKey != "",
			"client_api_key_validation": cfg.AnthropicAPIKey != "" || len(cfg.APIKeys) > 0,
			"big_model":                 cfg.Models.Big,
			"middle_model":              cfg.Models.Middle,
			"small_model":               cfg.Models.Small,
			"boost_enabled":             cfg.Boost.Enabled,
			"boost_model":               cfg.Boost.Model,
		},
		"endpoints": gin.H{
			"messages":        "/v1/messages",
			"count_tokens":    "/v1/messages/count_tokens",
			"models":          "/v1/models",
			"health":          "/health",
			"test_connection": "/test-connection",
		},
	})
}

// Start serves until Stop. TLS is used when configured.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start HTTP server: server not initialized")
	}

	cfg := s.getConfig()
	if cfg.TLS.Enable {
		log.Infof("Starting API server on %s with TLS", s.server.Addr)
		if errServeTLS := s.server.ListenAndServeTLS(strings.TrimSpace(cfg.TLS.Cert), strings.TrimSpace(cfg.TLS.Key)); errServeTLS != nil && !errors.Is(errServeTLS, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTPS server: %v", errServeTLS)
		}
		return nil
	}

	log.Infof("Starting API server on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts down the API server without interrupting any
// active connections.
func (s *Server) Stop(ctx context.Context) error {
	log.Debugf("Stopping API server with %d request(s) in flight...", s.tracker.Count())
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %v", err)
	}
	if clients := s.handlers.Clients(); clients != nil && clients.Release != nil {
		clients.Release()
	}
	log.Debug("API server stopped")
	return nil
}

// UpdateConfig applies a reloaded configuration. Collaborators are rebuilt
// and swapped for new requests; requests in flight finish with the old ones.
// Host, port and TLS changes need a restart.
func (s *Server) UpdateConfig(cfg *config.Config) error {
	old := s.getConfig()
	clients, err := s.buildClients(cfg, s.registry)
	if err != nil {
		return err
	}

	if old.LogLevel != cfg.LogLevel {
		logging.SetLogLevel(cfg.LogLevel)
		log.Infof("log level changed from %s to %s", old.LogLevel, cfg.LogLevel)
	}
	if old.IsMetricsEnabled() != cfg.IsMetricsEnabled() {
		middleware.SetMetricsEnabled(cfg.IsMetricsEnabled())
	}
	if old.Host != cfg.Host || old.Port != cfg.Port || old.TLS != cfg.TLS {
		log.Warn("listen address or TLS changed; restart to apply")
	}
	if old.Boost.Enabled != cfg.Boost.Enabled {
		log.Infof("boost support changed from %s to %s", old.Boost.Enabled, cfg.Boost.Enabled)
	}

	prev := s.handlers.Clients()
	s.cfg.Store(cfg)
	s.handlers.UpdateClients(clients)
	if prev != nil && prev.Release != nil {
		prev.Release()
	}
	log.Infof("configuration reloaded (backend %s, key %s)", cfg.Backend.BaseURL, util.HideAPIKey(cfg.Backend.APIKey))
	return nil
}

func (s *Server) getConfig() *config.Config { return s.cfg.Load() }

// corsMiddleware allows any origin; the proxy authenticates by key, not origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := strings.TrimSpace(c.GetHeader("Origin")); origin != "" {
			c.Header("Access-Control-Allow-Origin", "*")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "*")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware checks the client key from x-api-key or a bearer token.
func authMiddleware(getCfg func() *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader("x-api-key"))
		if key == "" {
			key = util.BearerToken(c.GetHeader("Authorization"))
		}
		if getCfg().ValidateClientAPIKey(key) {
			c.Next()
			return
		}
		err := apperrors.Unauthorized("Invalid API key. Please provide a valid Anthropic API key.")
		c.Header("Content-Type", "application/json")
		c.AbortWithStatus(err.HTTPStatusCode)
		_, _ = c.Writer.Write(err.ToClaudeJSON())
	}
}
