package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CollectorChannels = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "collector_channels_total",
		Help: "Каналы, обработанные сборщиком, по статусу",
	}, []string{"status"})
	CollectorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "collector_errors_total",
		Help: "Ошибки при сборе каналов",
	})
	ReportBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_build_seconds",
		Help:    "Время построения отчёта",
		Buckets: prometheus.DefBuckets,
	})
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LedgerOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Сохранённые операции по типу",
	}, []string{"type"})

	LedgerDuplicatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_duplicates_total",
		Help: "Повторные подтверждения, сведённые к существующей операции",
	})

	LedgerStorageErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_storage_errors_total",
		Help: "Сбои записи операций",
	})

	BotUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_updates_total",
		Help: "Входящие апдейты бота по виду",
	}, []string{"kind"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CollectorChannels,
		CollectorErrors,
		ReportBuildSeconds,
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LedgerOperationsTotal,
		LedgerDuplicatesTotal,
		LedgerStorageErrors,
		BotUpdatesTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: не удалось корректно остановить сервер")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: сервер остановлен")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncOperationCommitted увеличивает счётчик сохранённых операций.
func IncOperationCommitted(opType string) {
	LedgerOperationsTotal.WithLabelValues(opType).Inc()
}

// IncOperationDuplicate увеличивает счётчик дубликатов.
func IncOperationDuplicate() {
	LedgerDuplicatesTotal.Inc()
}

// IncLedgerStorageError увеличивает счётчик сбоев записи.
func IncLedgerStorageError() {
	LedgerStorageErrors.Inc()
}

// ObserveCollectedChannel учитывает результат сбора по каналу.
func ObserveCollectedChannel(err error) {
	if err != nil {
		CollectorErrors.Inc()
		CollectorChannels.WithLabelValues("error").Inc()
		return
	}
	CollectorChannels.WithLabelValues("success").Inc()
}

// IncBotUpdate учитывает входящий апдейт.
func IncBotUpdate(kind string) {
	BotUpdatesTotal.WithLabelValues(kind).Inc()
}
