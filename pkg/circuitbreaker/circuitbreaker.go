// Package circuitbreaker предоставляет обёртку над gobreaker.
// Защищает вызовы к внешним системам (Kafka) от каскадных сбоев:
// при недоступном брокере relay падает быстро, не выжигая ресурсы повторами.
package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/fulfillment-system/pkg/logger"
)

// Breaker — circuit breaker для одного внешнего ресурса.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// Config содержит настройки circuit breaker.
type Config struct {
	// Name — имя брейкера для логов.
	Name string

	// MaxRequests — количество пробных запросов в состоянии half-open.
	MaxRequests uint32

	// Interval — период сброса счётчиков в состоянии closed.
	Interval time.Duration

	// Timeout — время в состоянии open до перехода в half-open.
	Timeout time.Duration

	// FailureThreshold — количество последовательных ошибок для открытия.
	FailureThreshold uint32
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}

// New создаёт circuit breaker с указанными настройками.
func New(cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker сменил состояние")
		},
	}

	return &Breaker{
		cb: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Execute выполняет fn через circuit breaker.
// В состоянии open возвращает gobreaker.ErrOpenState без вызова fn.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State возвращает текущее состояние брейкера.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
