// Package metrics определяет Prometheus метрики системы фулфилмента
// и HTTP сервер для их отдачи вместе с health/readiness пробами.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики CDC Relay.
var (
	// RelayPublished — количество опубликованных бизнес-сообщений.
	RelayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_published_total",
		Help: "Количество сообщений, опубликованных relay из outbox",
	}, []string{"topic"})

	// RelayPublishErrors — количество ошибок публикации.
	RelayPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_publish_errors_total",
		Help: "Количество ошибок публикации relay",
	})

	// RelaySkipped — записи change-stream, пропущенные relay (update/delete).
	RelaySkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_records_skipped_total",
		Help: "Количество пропущенных записей change-stream",
	})
)

// Метрики outbox.
var (
	// OutboxEnqueued — записи, добавленные в outbox.
	OutboxEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_entries_enqueued_total",
		Help: "Количество записей, добавленных в outbox",
	}, []string{"event_type"})

	// OutboxByStatus — текущее количество записей outbox по статусам.
	OutboxByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbox_entries",
		Help: "Количество записей outbox по статусам",
	}, []string{"status"})
)

// Метрики саг.
var (
	// SagaStarted — запущенные саги.
	SagaStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_started_total",
		Help: "Количество запущенных саг",
	})

	// SagaCompleted — успешно завершённые саги.
	SagaCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_completed_total",
		Help: "Количество успешно завершённых саг",
	})

	// SagaFailed — саги, завершённые компенсацией.
	SagaFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_failed_total",
		Help: "Количество саг, завершённых компенсацией",
	})

	// SagaRecovered — саги, перезапущенные recovery-воркером.
	SagaRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "saga_recovered_total",
		Help: "Количество саг, перезапущенных recovery-воркером",
	})
)

// Метрики consumer и дедупликации.
var (
	// ConsumerProcessed — обработанные сообщения по топику и результату.
	ConsumerProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_messages_processed_total",
		Help: "Количество обработанных сообщений",
	}, []string{"topic", "result"})

	// DedupHits — сообщения, отброшенные дедуп-реестром как дубликаты.
	DedupHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedup_duplicate_hits_total",
		Help: "Количество отброшенных дубликатов",
	})
)

// Метрики DLQ.
var (
	// DlqRecorded — сообщения, записанные в DLQ.
	DlqRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlq_records_total",
		Help: "Количество сообщений, записанных в DLQ",
	})

	// DlqRetries — попытки повторной обработки из DLQ.
	DlqRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlq_retries_total",
		Help: "Количество попыток повторной обработки из DLQ",
	}, []string{"result"})

	// DlqPermanentFailures — сообщения, переведённые в PERMANENT_FAILURE.
	DlqPermanentFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dlq_permanent_failures_total",
		Help: "Количество сообщений с исчерпанными попытками",
	})

	// DlqByStatus — текущее количество записей DLQ по статусам.
	DlqByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dlq_records",
		Help: "Количество записей DLQ по статусам",
	}, []string{"status"})
)
