package router

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/config"
	"withdraw-backend/internal/handlers"
	"withdraw-backend/internal/middleware"
)

// Handlers everything the router mounts
type Handlers struct {
	Auth       *handlers.AuthHandler
	Withdrawal *handlers.WithdrawalHandler
	WebSocket  *handlers.WebSocketHandler
	Health     map[string]handlers.HealthCheck
}

// SetupRouter builds the gin engine
func SetupRouter(cfg *config.Config, h Handlers, logger *logrus.Logger) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), middleware.CORS(cfg.CORS))

	r.GET("/health", handlers.HealthCheckHandler(h.Health))

	metricsGuard := middleware.NewLocalhostOnly(logger, cfg.Server.MetricsAllowedIPs)
	r.GET("/metrics", metricsGuard.Restrict(), gin.WrapH(promhttp.Handler()))

	auth := middleware.NewAuthMiddleware(h.Auth, logger)
	submitLimit, err := middleware.RateLimit(cfg.RateLimit.Submit)
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth")
		authGroup.POST("/nonce", h.Auth.GenerateNonceHandler)
		authGroup.POST("/login", h.Auth.AuthenticateHandler)

		withdrawals := api.Group("/withdrawals", auth.RequireAuth())
		withdrawals.POST("", submitLimit, h.Withdrawal.SubmitWithdrawalHandler)
		withdrawals.GET("/pending", h.Withdrawal.GetPendingHandler)
		withdrawals.POST("/pending/cancel", h.Withdrawal.CancelPendingHandler)
		withdrawals.GET("/history", h.Withdrawal.GetHistoryHandler)
		withdrawals.GET("/transitions", h.Withdrawal.GetTransitionsHandler)

		api.GET("/ws", auth.RequireAuth(), h.WebSocket.HandleWebSocket)
	}

	return r, nil
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"ip":       c.ClientIP(),
		}).Debug("request handled")
	}
}
