// Сервис заказов: HTTP API, оркестратор саги выполнения заказа,
// CDC Relay для своей таблицы outbox, recovery-воркер и уборщик outbox.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/fulfillment-system/pkg/circuitbreaker"
	"example.com/fulfillment-system/pkg/config"
	"example.com/fulfillment-system/pkg/db"
	"example.com/fulfillment-system/pkg/events"
	"example.com/fulfillment-system/pkg/eventstore"
	"example.com/fulfillment-system/pkg/healthcheck"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/pkg/relay"
	"example.com/fulfillment-system/pkg/tracing"
	"example.com/fulfillment-system/services/order/internal/handler"
	"example.com/fulfillment-system/services/order/internal/repository"
	"example.com/fulfillment-system/services/order/internal/saga"
)

const serviceName = "order-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка загрузки конфигурации")
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

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

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
	}
	defer producer.Close()

	// Хранилища и оркестратор
	outboxRepo := outbox.NewRepository(database)
	store := eventstore.NewStore(database)
	sagaRepo := saga.NewRepository(database)
	orderRepo := repository.NewOrderRepository(database)
	routing := events.NewRouting()

	orchestrator := saga.NewOrchestrator(sagaRepo, orderRepo, outboxRepo, store, routing, cfg.Outbox.MaxRetries)

	// CDC Relay: change-stream таблицы outbox → бизнес-топики.
	// У каждого сервиса свой change-stream, поэтому default задаётся здесь,
	// а не в общей конфигурации.
	changeTopic := cfg.Relay.ChangeTopic
	if changeTopic == "" {
		changeTopic = events.TopicOrderOutboxCDC
	}

	changeSource, err := kafka.NewConsumer(
		kafka.Config{Brokers: cfg.Kafka.Brokers},
		changeTopic,
		cfg.Relay.Group,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка создания consumer change-stream")
	}
	defer changeSource.Close()

	publishBreaker := circuitbreaker.New(circuitbreaker.DefaultConfig("relay-publish"))
	outboxRelay := relay.New(changeSource, producer, outboxRepo, publishBreaker, relay.DefaultConfig())

	// Потребители ответов Inventory
	reservedConsumer, err := kafka.NewConsumer(
		kafka.Config{Brokers: cfg.Kafka.Brokers, HandleTimeout: cfg.Consumer.HandleTimeout},
		events.TopicInventoryReserved,
		cfg.Kafka.ConsumerGroup+"-order",
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка создания consumer inventory.reserved")
	}
	defer reservedConsumer.Close()

	failedConsumer, err := kafka.NewConsumer(
		kafka.Config{Brokers: cfg.Kafka.Brokers, HandleTimeout: cfg.Consumer.HandleTimeout},
		events.TopicReservationFailed,
		cfg.Kafka.ConsumerGroup+"-order",
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка создания consumer inventory.reservation-failed")
	}
	defer failedConsumer.Close()

	reservedConsumer.SetDLQProducer(producer)
	failedConsumer.SetDLQProducer(producer)

	replyHandler := saga.NewReplyHandler(orchestrator)

	// Фоновые воркеры
	recoveryWorker := saga.NewRecoveryWorker(
		sagaRepo, orchestrator,
		cfg.Saga.RecoveryInterval, cfg.Saga.StuckTimeout, cfg.Saga.RecoveryBatch,
	)
	sweeper := outbox.NewSweeper(outboxRepo, cfg.Outbox.SweepInterval, cfg.Outbox.Retention)

	metricsServer := metrics.NewServer(cfg.Metrics.Addr(),
		metrics.ReadinessCheck{Name: "mysql", Check: healthcheck.CheckMySQL(database)},
	)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTPAddr(),
		Handler:           handler.NewRouter(orchestrator, serviceName),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return outboxRelay.Run(groupCtx)
	})

	group.Go(func() error {
		return saga.RunReplyConsumers(groupCtx, replyHandler, reservedConsumer, failedConsumer, 3)
	})

	group.Go(func() error {
		recoveryWorker.Start(groupCtx)
		return nil
	})

	group.Go(func() error {
		sweeper.Start(groupCtx)
		return nil
	})

	group.Go(func() error {
		return metricsServer.Start()
	})

	group.Go(func() error {
		logger.Info().Str("addr", httpServer.Addr).Msg("Запуск HTTP сервера заказов")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
		}

		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info().Str("service", serviceName).Msg("Сервис заказов запущен")

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Сервис заказов завершился с ошибкой")
	}

	logger.Info().Msg("Сервис заказов остановлен")
}
