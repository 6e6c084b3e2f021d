// Package server exposes a read-only HTTP inspection surface over an
// evidence ledger: stats, record and bundle metadata, and integrity
// verification. Blob payload bytes are deliberately never served —
// evidence content stays on the host that wrote it.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hardy-3003/evidencestore/internal/ledger"
	"go.uber.org/zap"
)

// Config carries the HTTP surface settings.
type Config struct {
	// CORSOrigins lists allowed origins; empty disables CORS handling.
	CORSOrigins []string
	// RateLimitRPS is the per-IP steady-state request rate; 0 disables
	// limiting.
	RateLimitRPS int
}

// Server wires the inspection handlers over one ledger.
type Server struct {
	ledger *ledger.Ledger
	logger *zap.Logger
}

// New creates a Server for the given ledger.
func New(l *ledger.Ledger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{ledger: l, logger: logger}
}

// Router builds the gin engine with middleware and all routes mounted.
func (s *Server) Router(cfg Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	if len(cfg.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{"GET", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders: []string{"Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Next()
	})

	if cfg.RateLimitRPS > 0 {
		router.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitRPS*2))
	}

	router.Use(PrometheusMiddleware())
	router.Use(s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", MetricsHandler())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/ledger", s.Overview)
		v1.GET("/ledger/keys", s.Keys)
		v1.GET("/ledger/records", s.Records)
		v1.GET("/ledger/records/:id", s.RecordByID)
		v1.GET("/ledger/verify", s.VerifyAll)
		v1.GET("/ledger/verify/:key", s.VerifyKey)
		v1.GET("/bundles", s.Bundles)
		v1.GET("/blobs/:hash", s.BlobReference)
	}
	return router
}

// Overview handles GET /api/v1/ledger — ledger-wide stats.
func (s *Server) Overview(c *gin.Context) {
	st, err := s.ledger.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error("ledger stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, st)
}

// Keys handles GET /api/v1/ledger/keys.
func (s *Server) Keys(c *gin.Context) {
	keys, err := s.ledger.ListKeys(c.Request.Context())
	if err != nil {
		s.logger.Error("list keys", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// Records handles GET /api/v1/ledger/records?limit=N — record metadata in
// ascending write order.
func (s *Server) Records(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	records, err := s.ledger.ListRecords(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("list records", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// RecordByID handles GET /api/v1/ledger/records/:id.
func (s *Server) RecordByID(c *gin.Context) {
	rec, err := s.ledger.ReadByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("read record", zap.String("id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read record"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// VerifyKey handles GET /api/v1/ledger/verify/:key — integrity check of a
// single key, reported as a boolean.
func (s *Server) VerifyKey(c *gin.Context) {
	key := c.Param("key")
	valid := s.ledger.VerifyIntegrity(c.Request.Context(), key)
	RecordIntegrityCheck(valid)
	if !valid {
		s.logger.Warn("integrity check failed", zap.String("key", key))
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "valid": valid})
}

// VerifyAll handles GET /api/v1/ledger/verify — integrity sweep over
// every key.
func (s *Server) VerifyAll(c *gin.Context) {
	passed, failed, err := s.ledger.VerifyAll(c.Request.Context())
	if err != nil {
		s.logger.Error("verify all", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify ledger"})
		return
	}
	for range failed {
		RecordIntegrityCheck(false)
	}
	for i := 0; i < passed; i++ {
		RecordIntegrityCheck(true)
	}
	if len(failed) > 0 {
		s.logger.Warn("integrity sweep found failures", zap.Strings("keys", failed))
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":  len(failed) == 0,
		"passed": passed,
		"failed": failed,
	})
}

// Bundles handles GET /api/v1/bundles — finalized bundle manifests.
func (s *Server) Bundles(c *gin.Context) {
	manifests, err := s.ledger.ListBundles(c.Request.Context())
	if err != nil {
		s.logger.Error("list bundles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bundles"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bundles": manifests})
}

// BlobReference handles GET /api/v1/blobs/:hash — blob metadata only,
// never the payload.
func (s *Server) BlobReference(c *gin.Context) {
	ref, err := s.ledger.BlobStore().GetReference(c.Param("hash"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "blob not found"})
		return
	}
	c.JSON(http.StatusOK, ref)
}

// requestLogger logs each request with zap.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
