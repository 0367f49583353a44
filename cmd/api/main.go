package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"evacuation/internal/auth"
	"evacuation/internal/config"
	"evacuation/internal/evacuation"
	"evacuation/internal/faceclient"
	"evacuation/internal/httpmiddleware"
	"evacuation/internal/queue"
	"evacuation/internal/store"
)

// The api binary serves the interactive surface: manual status overrides,
// evacuation roster queries for report builders, and refresh triggers that are
// published to the queue for the worker to pick up.
func main() {
	cfg := config.Load()
	log := newLogger(cfg.Env).With().Str("component", "api").Logger()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func run(cfg config.App, log zerolog.Logger) error {
	ctx := context.Background()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	q := buildQueue(cfg.QueueBackend, redisClient, log)

	face := faceclient.New(cfg.FaceAPIURL, cfg.FaceAPITimeout)
	issuer := auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	repo := evacuation.NewRepository(db.Pool)
	svc := evacuation.NewService(face, repo, evacuation.NewGuard(), evacuation.Options{
		LookbackDays:       cfg.LookbackDays,
		FaceListLimit:      cfg.FaceListLimit,
		DetectionPageLimit: cfg.DetectionPageLimit,
		ListItemPageLimit:  cfg.ListItemPageLimit,
	}, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Pool.Ping(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			ClientID string `json:"client_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := issuer.Issue(req.ClientID, auth.RoleOperator)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, tokenResponse(tokens))
	})

	r.POST("/v1/auth/refresh", func(c *gin.Context) {
		var req struct {
			RefreshToken string `json:"refresh_token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		tokens, err := issuer.Refresh(req.RefreshToken)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		c.JSON(http.StatusCreated, tokenResponse(tokens))
	})

	v1 := r.Group("/v1", auth.OperatorAuth(issuer))

	// Manual override from an uploaded correction or bot command. Errors are
	// surfaced synchronously because the call is interactive.
	v1.PUT("/lists/:listID/persons/:personID/status", func(c *gin.Context) {
		listID, personID, ok := pathIDs(c)
		if !ok {
			return
		}
		var req struct {
			Status        *bool `json:"status" binding:"required"`
			EffectiveTime int64 `json:"effective_time"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		created, err := svc.SetManualStatus(c.Request.Context(), listID, personID, *req.Status, req.EffectiveTime)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		code := http.StatusOK
		if created {
			code = http.StatusCreated
		}
		c.JSON(code, gin.H{"list_id": listID, "person_id": personID, "status": *req.Status})
	})

	v1.GET("/lists/:listID/active", func(c *gin.Context) {
		listID, err := strconv.ParseInt(c.Param("listID"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid list id"})
			return
		}
		ids, err := svc.ActivePersonIDs(c.Request.Context(), listID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"list_id": listID, "ids": ids})
	})

	v1.GET("/lists/:listID/statuses", func(c *gin.Context) {
		listID, err := strconv.ParseInt(c.Param("listID"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid list id"})
			return
		}
		statuses, err := svc.ActiveStatuses(c.Request.Context(), listID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"list_id": listID, "statuses": statuses})
	})

	v1.POST("/refresh", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		msg := queue.Message{
			Type:        queue.TypeRefresh,
			RequestedBy: claims.Subject,
			RequestedAt: time.Now().UnixMilli(),
		}
		if err := q.Publish(c.Request.Context(), msg); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trigger publish failed"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server forced shutdown")
	}
	log.Info().Msg("server exited")
	return nil
}

// buildQueue selects the trigger-queue backend. The in-memory queue is
// process-local: triggers published here never reach a worker running in
// another process, so it is only usable for dev against the api alone.
func buildQueue(backend string, redisClient *store.Redis, log zerolog.Logger) queue.Queue {
	if backend == "memory" {
		log.Warn().Msg("in-memory queue backend: refresh triggers stay in this process and no worker will see them")
		return queue.NewInMemory(16)
	}
	return queue.NewRedisQueue(redisClient.Client, "evacuation:refresh")
}

func tokenResponse(tokens auth.TokenPair) gin.H {
	return gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	}
}

func pathIDs(c *gin.Context) (int64, int64, bool) {
	listID, err := strconv.ParseInt(c.Param("listID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid list id"})
		return 0, 0, false
	}
	personID, err := strconv.ParseInt(c.Param("personID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return 0, 0, false
	}
	return listID, personID, true
}

func newLogger(env string) zerolog.Logger {
	if env == "production" || env == "prod" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.DebugLevel)
}
