package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/fulfillment-system/pkg/logger"
)

// ReadinessCheck — проверка готовности зависимости (MySQL, Redis, Kafka).
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server отдаёт /metrics и пробы живости/готовности.
type Server struct {
	httpServer *http.Server
	checks     []ReadinessCheck
}

// NewServer создаёт HTTP сервер метрик на указанном адресе.
func NewServer(addr string, checks ...ReadinessCheck) *Server {
	s := &Server{checks: checks}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleLiveness)
	mux.HandleFunc("/healthz", s.handleLiveness)
	mux.HandleFunc("/readyz", s.handleReadiness)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start запускает сервер. Блокирует до Shutdown.
func (s *Server) Start() error {
	logger.Info().
		Str("addr", s.httpServer.Addr).
		Msg("Запуск сервера метрик")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown останавливает сервер с ожиданием активных запросов.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info().Msg("Остановка сервера метрик")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleReadiness опрашивает все зависимости.
// Любая недоступная зависимость — 503, балансировщик убирает инстанс из ротации.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))

	for _, check := range s.checks {
		if err := check.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[check.Name] = err.Error()
			continue
		}
		results[check.Name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(results)
}
