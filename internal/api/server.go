package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/metrics"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/payment"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRouter registers every route on a fresh gin engine
func NewRouter(h *Handlers, m *metrics.Metrics, adminKey string, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))

	router.GET("/health", h.Health)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	if adminKey == "" {
		logger.Warn("ADMIN_API_KEY is not set, admin routes are unauthenticated")
	}
	admin := router.Group("/api/admin", AdminAuth(adminKey))
	{
		admin.GET("/analytics", h.Analytics)
		admin.GET("/analytics/power", h.PowerHistory)
		admin.POST("/meters/sync", h.SyncAll)
		admin.GET("/meters/sync", h.Credentials)
		admin.POST("/meters/:meterId/credentials", h.LinkCredentials)
		admin.POST("/meters/:meterId/control", h.Control)
	}

	webhooks := router.Group("/api/webhooks")
	{
		webhooks.POST("/paystack", h.Webhook(payment.GatewayPaystack, payment.HeaderPaystackSignature))
		webhooks.POST("/ivorypay", h.Webhook(payment.GatewayIvoryPay, payment.HeaderIvoryPaySignature))
	}

	return router
}

// Server is the HTTP server
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates the server and ties it to the app lifecycle
func NewServer(lc fx.Lifecycle, addr string, router *gin.Engine, logger *zap.Logger) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info("http server listening", zap.String("addr", addr))
				if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down http server")
			return s.httpServer.Shutdown(ctx)
		},
	})

	return s
}
