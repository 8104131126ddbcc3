// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/jobads/internal/account"
	"github.com/mbd888/jobads/internal/ads"
	"github.com/mbd888/jobads/internal/auth"
	"github.com/mbd888/jobads/internal/config"
	"github.com/mbd888/jobads/internal/entitlement"
	"github.com/mbd888/jobads/internal/health"
	"github.com/mbd888/jobads/internal/logging"
	"github.com/mbd888/jobads/internal/metrics"
	"github.com/mbd888/jobads/internal/notify"
	"github.com/mbd888/jobads/internal/payments"
	"github.com/mbd888/jobads/internal/ratelimit"
	"github.com/mbd888/jobads/internal/security"
	"github.com/mbd888/jobads/internal/traces"
	"github.com/mbd888/jobads/migrations"
)

// OperatorAccountID is the account the bootstrap admin key is granted to.
const OperatorAccountID = "operator"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	accounts     account.Directory
	authMgr      *auth.Manager
	adService    *ads.Service
	adTimer      *ads.Timer
	gate         *entitlement.Service
	emitter      *notify.Emitter
	hub          *notify.Hub
	redisSink    *notify.RedisSink
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownOTel func(context.Context) error
	version      string
	drainDelay   time.Duration
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the build version reported by /health and traces.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers before
// closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(2 * time.Second),
		drainDelay: 5 * time.Second,
		version:    "dev",
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdownOTel, err := traces.Init(ctx, traces.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Environment: cfg.Env,
		SampleRatio: cfg.TraceSampleRatio,
		Version:     s.version,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownOTel = shutdownOTel

	// Operator event fan-out
	s.hub = notify.NewHub(s.logger)
	sinks := []notify.Sink{s.hub}
	if len(cfg.OperatorWebhookURLs) > 0 {
		sinks = append(sinks, notify.NewWebhookSink(cfg.OperatorWebhookURLs, cfg.WebhookSecret))
		s.logger.Info("operator webhooks enabled", "endpoints", len(cfg.OperatorWebhookURLs))
	}
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		sink, err := notify.NewRedisSink(pingCtx, cfg.RedisURL, notify.DefaultChannel)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redisSink = sink
		sinks = append(sinks, sink)
		s.health.Register("redis", sink.Ping)
		s.logger.Info("redis event publishing enabled", "channel", notify.DefaultChannel)
	}
	s.emitter = notify.NewEmitter(s.logger, sinks...)

	day := entitlement.NewQuotaDay(cfg.QuotaOffset)
	adOpts := []ads.Option{
		ads.WithNotifier(s.emitter),
		ads.WithDayStart(day.Start),
		ads.WithPaidCap(cfg.PaidAdCap),
		ads.WithPendingTTL(cfg.PendingDepositTTL),
		ads.WithSlotCaps(cfg.SlotCaps),
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var gateStore entitlement.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrations.Up(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.accounts = account.NewPostgresDirectory(db)
		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))
		s.adService = ads.NewService(ads.NewPostgresStore(db), s.accounts, s.logger, adOpts...)
		gateStore = entitlement.NewPostgresStore(db)

		s.health.Register("database", db.PingContext)
		if err := metrics.RegisterDB(db); err != nil {
			s.logger.Warn("db stats collector not registered", "error", err)
		}
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		s.accounts = account.NewMemoryDirectory()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.adService = ads.NewService(ads.NewMemoryStore(), s.accounts, s.logger, adOpts...)
		gateStore = entitlement.NewMemoryStore(liveGrants(s.adService))
	}

	s.gate = entitlement.NewService(gateStore, s.accounts, day, s.logger)
	s.adTimer = ads.NewTimer(s.adService, cfg.ExpirySweepInterval, s.logger)

	if cfg.AdminAPIKey != "" {
		if err := s.bootstrapOperator(ctx); err != nil {
			return nil, fmt.Errorf("failed to bootstrap operator: %w", err)
		}
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	s.logger.Info("entitlement engine configured",
		"quota_offset", entitlement.FormatOffset(cfg.QuotaOffset),
		"paid_ad_cap", cfg.PaidAdCap,
		"slot_caps", cfg.SlotCaps,
	)

	return s, nil
}

// liveGrants exposes the ad service's live ads as resume-view grants.
func liveGrants(svc *ads.Service) entitlement.GrantSource {
	return entitlement.GrantSourceFunc(func(ctx context.Context, accountID string, now time.Time) ([]entitlement.Grant, error) {
		live, err := svc.LiveAds(ctx, accountID)
		if err != nil {
			return nil, err
		}
		grants := make([]entitlement.Grant, 0, len(live))
		for _, ad := range live {
			if !ad.LiveAt(now) {
				continue
			}
			g := entitlement.Grant{AdID: ad.ID, Tier: ad.Tier}
			if ad.ActivatedAt != nil {
				g.ActivatedAt = *ad.ActivatedAt
			}
			grants = append(grants, g)
		}
		return grants, nil
	})
}

// bootstrapOperator makes sure the root operator account exists and
// accepts the configured admin key.
func (s *Server) bootstrapOperator(ctx context.Context) error {
	acct := &account.Account{ID: OperatorAccountID, Role: account.Operator{}, CreatedAt: time.Now()}
	err := s.accounts.Create(ctx, acct)
	switch {
	case err == nil:
		s.logger.Info("operator account created", "account_id", OperatorAccountID)
	case errors.Is(err, account.ErrAccountExists):
		existing, err := s.accounts.Get(ctx, OperatorAccountID)
		if err != nil {
			return err
		}
		if !account.IsOperator(existing.Role) {
			return fmt.Errorf("account %q exists and is not an operator", OperatorAccountID)
		}
	default:
		return err
	}

	if _, err := s.authMgr.ImportKey(ctx, OperatorAccountID, "bootstrap", s.cfg.AdminAPIKey); err != nil {
		return err
	}
	return nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())

	// API keys travel in headers, so wildcard origins never carry cookies.
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	s.router.Use(security.RequestSizeMiddleware(security.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	adHandler := ads.NewHandler(s.adService)
	gateHandler := entitlement.NewHandler(s.gate)
	authHandler := auth.NewHandler(s.authMgr, s.accounts)

	// Rate limiting keys on the authenticated account, so it runs after auth.
	s.rateLimiter = ratelimit.New(ratelimit.FromRPM(s.cfg.RateLimitRPM))

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr))
	v1.Use(s.rateLimiter.Middleware())

	// Public: catalog, pricing and the card processor callback
	adHandler.RegisterRoutes(v1)
	payments.NewWebhookHandler(s.adService, s.cfg.StripeWebhookSecret, s.logger).RegisterRoutes(v1)

	protected := v1.Group("")
	protected.Use(auth.RequireAuth())
	adHandler.RegisterProtectedRoutes(protected)
	gateHandler.RegisterProtectedRoutes(protected)

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAuth(), auth.RequireOperator(s.accounts))
	authHandler.RegisterAdminRoutes(admin)
	adHandler.RegisterAdminRoutes(admin)
	gateHandler.RegisterAdminRoutes(admin)
	s.hub.RegisterAdminRoutes(admin)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.emitter.Run(runCtx)
	go s.adTimer.Start(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop background work only after in-flight requests have emitted their events.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
		select {
		case <-s.emitter.Done():
			s.logger.Info("event queue drained")
		case <-ctx.Done():
			s.logger.Warn("event queue drain timed out")
		}
	}

	s.adTimer.Stop()

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.redisSink != nil {
		if err := s.redisSink.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}

	if s.shutdownOTel != nil {
		if err := s.shutdownOTel(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
