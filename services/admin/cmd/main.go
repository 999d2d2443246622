// Admin-сервис: read-only API для операторов — журнал событий агрегатов,
// незавершённые саги, записи DLQ и состояние таблиц outbox.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/fulfillment-system/pkg/config"
	"example.com/fulfillment-system/pkg/db"
	"example.com/fulfillment-system/pkg/dlq"
	"example.com/fulfillment-system/pkg/eventstore"
	"example.com/fulfillment-system/pkg/healthcheck"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/pkg/tracing"
	"example.com/fulfillment-system/services/admin/internal/handler"
	"example.com/fulfillment-system/services/admin/internal/middleware"
	"example.com/fulfillment-system/services/admin/internal/readmodel"
)

const serviceName = "admin-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка загрузки конфигурации")
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	if cfg.Admin.JWTSecret == "" {
		logger.Warn().Msg("ADMIN_JWT_SECRET не задан, авторизация admin API отключена")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(cfg.Jaeger, serviceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка инициализации трассировки")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Ошибка остановки трассировки")
		}
	}()

	database, err := db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}

	store := eventstore.NewStore(database)
	sagaReader := readmodel.NewSagaReader(database)
	dlqManager := dlq.NewManager(database, cfg.Dlq.MaxRetries, cfg.Dlq.BaseBackoff, cfg.Dlq.MaxBackoff)
	outboxRepo := outbox.NewRepository(database)

	router := handler.NewRouter(
		store, sagaReader, dlqManager, outboxRepo,
		serviceName,
		middleware.JWTAuth(cfg.Admin.JWTSecret),
	)

	httpServer := &http.Server{
		Addr:              cfg.Admin.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsServer := metrics.NewServer(cfg.Metrics.Addr(),
		metrics.ReadinessCheck{Name: "mysql", Check: healthcheck.CheckMySQL(database)},
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("Запуск admin HTTP сервера")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return metricsServer.Start()
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Ошибка остановки admin HTTP сервера")
		}

		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info().Str("service", serviceName).Msg("Admin-сервис запущен")

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Admin-сервис завершился с ошибкой")
	}

	logger.Info().Msg("Admin-сервис остановлен")
}
