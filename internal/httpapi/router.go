package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"chapel/internal/auth"
	"chapel/internal/httpmiddleware"
	"chapel/internal/queue"
	"chapel/internal/warning"
)

// Config wires the router.
type Config struct {
	Uploads  Uploads
	Warnings Warnings
	Coverage Coverage
	// Jobs enables async warning generation; nil disables it.
	Jobs queue.Queue

	SigningKey       string
	Issuer           string
	RateLimitPerMin  int
	CORSOrigins      []string
	DefaultThreshold int
	Health           map[string]HealthCheck
	Gatherer         prometheus.Gatherer
	Logger           *zap.Logger
}

// NewRouter builds the gin engine with middleware and all routes.
func NewRouter(cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.DefaultThreshold
	if threshold < 1 {
		threshold = warning.DefaultThreshold
	}
	h := &Handler{
		uploads:   cfg.Uploads,
		warnings:  cfg.Warnings,
		coverage:  cfg.Coverage,
		jobs:      cfg.Jobs,
		threshold: threshold,
		health:    cfg.Health,
		logger:    logger,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger, "/healthz", "/metrics"))
	corsCfg := cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = nil
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	}
	r.Use(cors.New(corsCfg))
	r.Use(securityHeaders())

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", h.Healthz)

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	v1 := r.Group("/v1",
		auth.Bearer(cfg.SigningKey, cfg.Issuer),
		auth.RequireRole(auth.RoleAdmin, auth.RoleChaplain),
		limiter.GinMiddleware(),
	)
	{
		v1.POST("/uploads", h.CreateUpload)
		v1.GET("/uploads/:id", h.GetUpload)
		v1.POST("/uploads/:id/confirm", h.ConfirmUpload)
		v1.POST("/uploads/:id/cancel", h.CancelUpload)
		v1.GET("/batches/:id/versions", h.ListBatchVersions)

		v1.POST("/warnings/generate", h.GenerateWarnings)
		v1.GET("/warnings", h.ListWarnings)
		v1.POST("/warnings/sent", h.MarkWarningSent)

		v1.GET("/students/:id/exeat-coverage", h.ExeatCoverage)
	}
	return r
}

// requestLogger writes one zap line per request, skipping noisy probe paths.
func requestLogger(logger *zap.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if skipped[c.Request.URL.Path] {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
