// Сервис склада: обработка команд резервирования и отмены,
// CDC Relay для своей таблицы outbox, DLQ с воркером повторов
// и реестр обработанных событий с фронтом в Redis.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/fulfillment-system/pkg/circuitbreaker"
	"example.com/fulfillment-system/pkg/config"
	"example.com/fulfillment-system/pkg/db"
	"example.com/fulfillment-system/pkg/dlq"
	"example.com/fulfillment-system/pkg/events"
	"example.com/fulfillment-system/pkg/eventstore"
	"example.com/fulfillment-system/pkg/healthcheck"
	"example.com/fulfillment-system/pkg/kafka"
	"example.com/fulfillment-system/pkg/logger"
	"example.com/fulfillment-system/pkg/metrics"
	"example.com/fulfillment-system/pkg/outbox"
	"example.com/fulfillment-system/pkg/relay"
	"example.com/fulfillment-system/pkg/tracing"
	"example.com/fulfillment-system/services/inventory/internal/consumer"
	"example.com/fulfillment-system/services/inventory/internal/dedup"
	"example.com/fulfillment-system/services/inventory/internal/repository"
)

const serviceName = "inventory-service"

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

	redisClient := db.ConnectRedis(cfg.Redis)
	defer redisClient.Close()

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
	}
	defer producer.Close()

	// Хранилища и обработчик команд
	group := cfg.Kafka.ConsumerGroup + "-inventory"

	inventoryRepo := repository.NewInventoryRepository(database)
	ledger := dedup.NewLedger(database, redisClient, group, cfg.Consumer.DedupCacheTTL)
	outboxRepo := outbox.NewRepository(database)
	store := eventstore.NewStore(database)
	routing := events.NewRouting()
	dlqManager := dlq.NewManager(database, cfg.Dlq.MaxRetries, cfg.Dlq.BaseBackoff, cfg.Dlq.MaxBackoff)

	h := consumer.NewHandler(inventoryRepo, ledger, outboxRepo, store, routing, dlqManager, cfg.Outbox.MaxRetries)

	// CDC Relay: change-stream таблицы outbox → бизнес-топики.
	// У каждого сервиса свой change-stream, поэтому default задаётся здесь,
	// а не в общей конфигурации.
	changeTopic := cfg.Relay.ChangeTopic
	if changeTopic == "" {
		changeTopic = events.TopicInventoryOutboxCDC
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

	// Потребители команд сервиса заказов
	createdConsumer, err := kafka.NewConsumer(
		kafka.Config{Brokers: cfg.Kafka.Brokers, HandleTimeout: cfg.Consumer.HandleTimeout},
		events.TopicOrderCreated,
		group,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка создания consumer order.created")
	}
	defer createdConsumer.Close()

	cancelledConsumer, err := kafka.NewConsumer(
		kafka.Config{Brokers: cfg.Kafka.Brokers, HandleTimeout: cfg.Consumer.HandleTimeout},
		events.TopicOrderCancelled,
		group,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Ошибка создания consumer order.cancelled")
	}
	defer cancelledConsumer.Close()

	// Фоновые воркеры
	retryWorker := dlq.NewRetryWorker(dlqManager, h.RetryFromDLQ, cfg.Dlq.PollInterval, cfg.Dlq.Batch)
	sweeper := outbox.NewSweeper(outboxRepo, cfg.Outbox.SweepInterval, cfg.Outbox.Retention)

	metricsServer := metrics.NewServer(cfg.Metrics.Addr(),
		metrics.ReadinessCheck{Name: "mysql", Check: healthcheck.CheckMySQL(database)},
		metrics.ReadinessCheck{Name: "redis", Check: healthcheck.CheckRedis(redisClient)},
	)

	workers, workersCtx := errgroup.WithContext(ctx)

	workers.Go(func() error {
		return outboxRelay.Run(workersCtx)
	})

	// Ошибка обработки уходит в хранимую DLQ и не блокирует партицию
	workers.Go(func() error {
		return createdConsumer.Consume(workersCtx, h.WithStoredDLQ(h.HandleOrderCreated))
	})

	workers.Go(func() error {
		return cancelledConsumer.Consume(workersCtx, h.WithStoredDLQ(h.HandleOrderCancelled))
	})

	workers.Go(func() error {
		retryWorker.Start(workersCtx)
		return nil
	})

	workers.Go(func() error {
		sweeper.Start(workersCtx)
		return nil
	})

	workers.Go(func() error {
		runMaintenance(workersCtx, ledger, outboxRepo, dlqManager, cfg.Consumer.DedupRetention)
		return nil
	})

	workers.Go(func() error {
		return metricsServer.Start()
	})

	workers.Go(func() error {
		<-workersCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return metricsServer.Shutdown(shutdownCtx)
	})

	logger.Info().Str("service", serviceName).Msg("Сервис склада запущен")

	if err := workers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("Сервис склада завершился с ошибкой")
	}

	logger.Info().Msg("Сервис склада остановлен")
}

// runMaintenance раз в минуту обновляет gauge-метрики по статусам
// и чистит реестр обработанных событий от устаревших записей.
func runMaintenance(ctx context.Context, ledger *dedup.Ledger, outboxRepo outbox.Repository, dlqManager *dlq.Manager, dedupRetention time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if counts, err := outboxRepo.CountByStatus(ctx); err == nil {
				for status, count := range counts {
					metrics.OutboxByStatus.WithLabelValues(status).Set(float64(count))
				}
			}

			if counts, err := dlqManager.CountByStatus(ctx); err == nil {
				for status, count := range counts {
					metrics.DlqByStatus.WithLabelValues(status).Set(float64(count))
				}
			}

			if _, err := ledger.PruneBefore(ctx, time.Now().UTC().Add(-dedupRetention)); err != nil {
				logger.Error().Err(err).Msg("Ошибка очистки реестра обработанных событий")
			}
		}
	}
}
