package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/assets_backend/config"
	"bitbucket.org/mmdatafocus/assets_backend/handlers"
	"bitbucket.org/mmdatafocus/assets_backend/metrics"
	"bitbucket.org/mmdatafocus/assets_backend/middlewares"
	"bitbucket.org/mmdatafocus/assets_backend/models"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	if err := config.ConnectDatabaseWithRetry(sigCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "database"}).Fatal(err.Error())
	}
	config.ConnectRedisWithRetry(sigCtx)

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can block tables; SKIP_MIGRATIONS=true leaves it to a separate job.
	if !config.SkipMigrations() {
		if err := models.MigrateTable(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(cors.New(corsConfig()))
	r.Use(middlewares.ErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/counting")
	if rdb := config.GetRedisDB(); rdb != nil && config.RateLimitEnabled() {
		limit := int64(config.EnvInt("RATE_LIMIT_MAX_REQUESTS", 600))
		window := time.Duration(config.EnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
		api.Use(middlewares.NewRateLimiter(rdb, limit, window).Middleware())
	}
	api.Use(middlewares.AuthMiddleware())
	api.Use(middlewares.RequireUser())

	service := models.NewCountingService(db, models.GormAssetSource{},
		models.WithLogger(logger),
		models.WithLocker(config.GetRedisLock()),
		models.WithMetrics(metrics.NewCounting(prometheus.DefaultRegisterer, "assets")),
	)
	handler := handlers.NewCountingHandler(service)
	handler.Register(api)
	if config.CountingAssetHooksEnabled() {
		handler.RegisterAssetHooks(api)
	}
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{"field": "http", "port": port, "asset_hooks": config.CountingAssetHooksEnabled()}).
		Info("counting api listening")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// corsConfig requires an explicit CORS_ALLOWED_ORIGINS allowlist in production.
func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		if len(corsConfig.AllowOrigins) == 0 {
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"reason": "route_not_found", "message": "route not found"})
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
