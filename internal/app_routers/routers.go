package approuters

import (
	"Saathi/internal/configuration"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func StartServer(container *configuration.Container) {
	logger := container.Logger
	appServer := createAppServer(container)

	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("server starting",
			zap.String("http", fmt.Sprintf("http://localhost:%d", container.Config.Server.AppPort)),
			zap.String("ws", fmt.Sprintf("ws://localhost:%d/%s", container.Config.Server.AppPort, container.Config.Server.SocketRoute)),
		)
		if err := appServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("app server error: %w", err)
		}
	}()

	// Listen for shutdown signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		logger.Error("server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("received signal, initiating graceful shutdown", zap.Stringer("signal", sig))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// hijacked websocket connections are not tracked by Shutdown
	logger.Info("stopping hub and closing all WebSocket connections")
	container.Hub.Stop()

	logger.Info("shutting down application server")
	if err := appServer.Shutdown(ctx); err != nil {
		logger.Error("app server shutdown error", zap.Error(err))
	}

	logger.Info("graceful shutdown complete")
}

func createAppServer(container *configuration.Container) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", container.Config.Server.AppPort),
		Handler:      NewRouter(container),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewRouter builds the gin engine serving REST, monitoring and the websocket
// upgrade route.
func NewRouter(container *configuration.Container) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(container.Logger))
	router.Use(cors.New(corsConfig(container.Config.Server.AllowedOrigins)))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Welcome to Saathi messaging server!",
		})
	})

	router.GET("/"+container.Config.Server.SocketRoute, gin.WrapH(container.Hub))

	MessageRouters(router, container)
	MonitorRouters(router, container)

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
