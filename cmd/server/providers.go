package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/alarm"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/analytics"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/api"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/config"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/credentials"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/db"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/iot"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/metersync"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/metrics"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/mq"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/notify"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/payment"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/repository"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/scheduler"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideMetrics creates the metrics registry
func ProvideMetrics() *metrics.Metrics {
	return metrics.New()
}

// ProvideDBPool creates the database pool
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates the repository
func ProvideRepository(pool *pgxpool.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideIoTClient creates the meter platform client
func ProvideIoTClient(cfg *config.Config, logger *zap.Logger) *iot.Client {
	return iot.NewClient(cfg.IoT.BaseURL, logger,
		iot.WithHTTPClient(&http.Client{Timeout: cfg.IoT.RequestTimeout}),
		iot.WithMaxRetries(cfg.IoT.MaxRetries),
	)
}

// ProvideAdminSession creates the admin session with its own token cache
func ProvideAdminSession(client *iot.Client, cfg *config.Config, logger *zap.Logger) *iot.AdminSession {
	return iot.NewAdminSession(
		client,
		iot.NewTokenCache(),
		cfg.IoT.AdminUsername,
		iot.HashPassword(cfg.IoT.AdminPassword),
		cfg.IoT.TokenTTL,
		logger,
	)
}

// ProvideCredentialManager creates the per-room token manager
func ProvideCredentialManager(repo *repository.Repository, client *iot.Client, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *credentials.Manager {
	return credentials.NewManager(repo, client, cfg.IoT.TokenTTL, m, logger)
}

// ProvideMQConnection creates the RabbitMQ connection
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the domain event publisher
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return publisher.Close() },
	})
	return publisher, nil
}

// ProvideSyncer creates the meter syncer
func ProvideSyncer(repo *repository.Repository, tokens *credentials.Manager, client *iot.Client, publisher *mq.Publisher, dispatcher *notify.Dispatcher, m *metrics.Metrics, logger *zap.Logger) *metersync.Syncer {
	return metersync.NewSyncer(repo, tokens, client, publisher, dispatcher, m, logger)
}

// ProvideAnalyticsEngine creates the analytics engine
func ProvideAnalyticsEngine(session *iot.AdminSession, repo *repository.Repository, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *analytics.Engine {
	return analytics.NewEngine(
		session,
		repo,
		alarm.NewClassifier(cfg.Analytics.DefaultAlarmThreshold),
		analytics.Config{
			BatchSize:          cfg.Analytics.BatchSize,
			PowerBreakdownTopN: cfg.Analytics.PowerBreakdownTopN,
			PowerRetention:     cfg.Analytics.PowerRetention,
		},
		m,
		logger,
	)
}

// ProvideDispatcher creates the notification dispatcher
func ProvideDispatcher(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *notify.Dispatcher {
	return notify.NewDispatcher(
		notify.NewChannels(cfg.Notify),
		notify.Recipients{AdminEmail: cfg.Notify.AdminEmail, AdminPhone: cfg.Notify.AdminPhone},
		cfg.Notify.RequestTimeout,
		m,
		logger,
	)
}

// ProvidePaymentService creates the webhook service
func ProvidePaymentService(
	repo *repository.Repository,
	tokens *credentials.Manager,
	client *iot.Client,
	dispatcher *notify.Dispatcher,
	publisher *mq.Publisher,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *payment.Service {
	return payment.NewService(
		repo,
		payment.NewMeterCrediter(tokens, client),
		dispatcher,
		publisher,
		payment.Secrets{Paystack: cfg.Payments.PaystackSecret, IvoryPay: cfg.Payments.IvoryPaySecret},
		m,
		logger,
	)
}

// ProvideValidator creates the request validator
func ProvideValidator() *validator.Validator {
	return validator.NewValidator(7, 366)
}

// ProvideHandlers creates the HTTP handlers
func ProvideHandlers(engine *analytics.Engine, syncer *metersync.Syncer, payments *payment.Service, v *validator.Validator, logger *zap.Logger) *api.Handlers {
	return api.NewHandlers(engine, syncer, payments, v, logger)
}

// ProvideRouter creates the gin router
func ProvideRouter(h *api.Handlers, m *metrics.Metrics, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return api.NewRouter(h, m, cfg.AdminAPIKey, logger)
}

// ProvideScheduler creates the periodic sync scheduler
func ProvideScheduler(lc fx.Lifecycle, syncer *metersync.Syncer, cfg *config.Config, logger *zap.Logger) (*scheduler.Scheduler, error) {
	s, err := scheduler.New(syncer, cfg.Sync.Interval, logger)
	if err != nil {
		return nil, err
	}
	s.RegisterLifecycle(lc)
	return s, nil
}

// ProvideSyncConsumer creates the sync-request consumer
func ProvideSyncConsumer(lc fx.Lifecycle, conn *mq.Connection, syncer *metersync.Syncer, cfg *config.Config, logger *zap.Logger) (*mq.Consumer, error) {
	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.SyncQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.SyncExchange,
		RoutingKey:    cfg.RabbitMQ.SyncRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       syncer.HandleSyncRequest,
	})
	if err != nil {
		return nil, err
	}
	consumer.RegisterLifecycle(lc)
	return consumer, nil
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Config,
	router *gin.Engine,
	_ *scheduler.Scheduler,
	_ *mq.Consumer,
	logger *zap.Logger,
) {
	api.NewServer(lc, cfg.HTTPAddress, router, logger)
}
