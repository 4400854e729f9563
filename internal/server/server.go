// Package server assembles the record stores, the primary pipeline, the
// middleware chain and the routes into a runnable gin engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitae/vitae/backend/go-services/handlers"
	"github.com/vitae/vitae/backend/go-services/internal/config"
	"github.com/vitae/vitae/backend/go-services/internal/oidc"
	"github.com/vitae/vitae/backend/go-services/internal/primary"
	"github.com/vitae/vitae/backend/go-services/internal/tokens"
	"github.com/vitae/vitae/backend/go-services/pkg/logger"
	"github.com/vitae/vitae/backend/go-services/pkg/metrics"
	"github.com/vitae/vitae/backend/go-services/pkg/middleware"
)

// Server is a configured HTTP front for the primary service.
type Server struct {
	Engine  *gin.Engine
	Service *primary.Service
	Backend *Backend

	cfg      *config.Config
	verifier middleware.Verifier
	started  time.Time
}

// New opens the backend and builds the engine.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	b, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(ctx, cfg, b), nil
}

// NewWithBackend builds the engine on an already opened backend.
func NewWithBackend(ctx context.Context, cfg *config.Config, b *Backend) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		Backend: b,
		cfg:     cfg,
		started: time.Now(),
		Service: primary.New(b.Stores, primary.Options{
			Editing:     cfg.Editing.Enabled,
			DefaultUser: cfg.Editing.DefaultUser,
			Publisher:   b.Publisher,
		}),
	}
	s.verifier = verifiers(ctx, cfg)
	s.Engine = s.routes()
	logger.Infof("config summary: driver=%s editing=%v redis=%v verifier=%v minio=%v",
		cfg.Storage.Driver, cfg.Editing.Enabled, b.Redis != nil, s.verifier != nil, cfg.MinIO.Enabled())
	return s
}

// verifiers builds the caller identity chain: OIDC first, then HS256
// editor tokens. Nil when neither is configured.
func verifiers(ctx context.Context, cfg *config.Config) middleware.Verifier {
	var chain middleware.Chain
	if cfg.Keycloak.Enabled() {
		ver, err := oidc.NewVerifier(ctx, cfg.Keycloak.Issuer(), cfg.Keycloak.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			chain = append(chain, ver)
		}
	}
	if cfg.JWT.Secret != "" {
		chain = append(chain, tokens.NewVerifier(cfg.JWT.Secret))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(cors(s.cfg.Server.CORSOrigins))
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", s.ready)

	reg := prometheus.NewRegistry()
	metrics.RegisterCollectors(reg)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	handlers.RegisterSwagger(r, s.Service.Nouns())

	api := r.Group("/primary")
	api.Use(middleware.OptionalAuthMiddleware(s.verifier))
	if rl := s.cfg.RateLimit; rl.Enabled {
		if rl.UseRedis && s.Backend.Redis != nil {
			api.Use(middleware.RedisRateLimitMiddleware(s.Backend.Redis, rl.RPS, rl.Burst, rl.Window))
		} else {
			api.Use(middleware.RateLimitMiddleware(rl.RPS, rl.Burst))
		}
	}
	var mutate []gin.HandlerFunc
	if s.cfg.Editing.AuthRequired {
		mutate = append(mutate, middleware.RequireUser())
	}
	handlers.RegisterPrimaryRoutes(api, s.Service, mutate...)
	return r
}

// ready returns 200 only when every configured dependency answers.
func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	deps := s.Backend.Check(ctx)
	if s.cfg.Keycloak.Enabled() || s.cfg.JWT.Secret != "" {
		deps["auth"] = s.verifier != nil
	}
	status, code := "ready", http.StatusOK
	for _, ok := range deps {
		if !ok {
			status, code = "not_ready", http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(code, gin.H{"status": status, "deps": deps, "uptime": time.Since(s.started).String()})
}

// cors answers preflight requests and sets the allow headers for the
// configured origins. "*" allows any origin.
func cors(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := map[string]bool{}
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		h := c.Writer.Header()
		switch {
		case allowAll:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		h.Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.Engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting vitae service on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		cerr := s.Backend.Close(context.Background())
		if err != nil {
			if cerr != nil {
				logger.Warnf("close backend: %v", cerr)
			}
			return fmt.Errorf("server failed: %w", err)
		}
		return cerr
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		if cerr := s.Backend.Close(shutdownCtx); cerr != nil {
			logger.Warnf("close backend: %v", cerr)
		}
		return fmt.Errorf("shutdown: %w", err)
	}
	return s.Backend.Close(shutdownCtx)
}
