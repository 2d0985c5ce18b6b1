package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-finance-bot/internal/adapters/bot"
	"tg-finance-bot/internal/adapters/mtproto"
	"tg-finance-bot/internal/adapters/repo"
	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/config"
	"tg-finance-bot/internal/infra/db"
	applog "tg-finance-bot/internal/infra/log"
	"tg-finance-bot/internal/infra/metrics"
	"tg-finance-bot/internal/infra/queue"
	"tg-finance-bot/internal/usecase/collect"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if err := cfg.Validate(config.RequireBot, config.RequireMTProto); err != nil {
		logger.Fatal().Err(err).Msg("collector: некорректная конфигурация")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: неизвестный часовой пояс")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}
	collectQueue, closeQueue, err := queue.Open(queue.Options{
		Driver:    cfg.Queues.Driver,
		Key:       cfg.Queues.Collect,
		Redis:     rdb,
		RabbitURL: cfg.RabbitURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: не удалось инициализировать очередь")
	}
	defer closeQueue()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: не удалось создать бота")
	}

	source := mtproto.NewSource(
		cfg.Telegram.APIID,
		cfg.Telegram.APIHash,
		mtproto.NewDBSession(repoAdapter, cfg.MTProto.SessionName),
		applog.Component(logger, "mtproto"),
	)
	collectService := collect.NewService(repoAdapter, repoAdapter, source, loc, applog.Component(logger, "collect")).
		WithEvents(repoAdapter).
		WithPostsWindow(cfg.Collect.PostsWindow)

	worker := &jobWorker{
		log:       applog.Component(logger, "collector"),
		queue:     collectQueue,
		statuses:  repoAdapter,
		collector: collectService,
		sender:    bot.NewSender(botAPI, logger),
		pause:     time.Second,
	}

	logger.Info().Str("session", cfg.MTProto.SessionName).Msg("collector: запуск обработки очереди")
	err = source.Run(ctx, func(ctx context.Context) error {
		worker.Run(ctx)
		return nil
	})
	switch {
	case errors.Is(err, mtproto.ErrUnauthorized):
		logger.Fatal().Err(err).Msg("collector: MTProto-сессия не авторизована, импортируйте её через mtproto-session-importer")
	case err != nil && !errors.Is(err, context.Canceled):
		logger.Fatal().Err(err).Msg("collector: MTProto клиент остановлен с ошибкой")
	}
	logger.Info().Msg("collector: остановлен")
}

type collectRunner interface {
	Run(ctx context.Context, job domain.CollectJob) (collect.Summary, error)
}

type textSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type jobWorker struct {
	log       zerolog.Logger
	queue     domain.CollectQueue
	statuses  domain.CollectJobStatusRepo
	collector collectRunner
	sender    textSender
	pause     time.Duration
}

const maxDeliveryAttempts = 5

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
)

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("collector: ошибка чтения очереди")
			w.sleep(ctx)
			continue
		}
		w.process(ctx, job, ack)
	}
}

func (w *jobWorker) process(ctx context.Context, job domain.CollectJob, ack domain.AckFunc) {
	jobLog := w.log.With().
		Str("job_id", job.ID).
		Str("cause", string(job.Cause)).
		Int64("channel", job.ChannelID).
		Int64("chat", job.ChatID).
		Logger()

	if job.ID == "" {
		jobLog.Error().Msg("collector: получена задача без идентификатора, подтверждаем и пропускаем")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("collector: не удалось подтвердить задачу без идентификатора")
		}
		return
	}

	done, attempt, err := w.statuses.EnsureCollectJob(ctx, job.ID)
	if err != nil {
		jobLog.Error().Err(err).Msg("collector: не удалось зарегистрировать задачу")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("collector: не удалось вернуть задачу в очередь")
		}
		w.sleep(ctx)
		return
	}

	jobLog = jobLog.With().Int("attempt", attempt).Logger()

	if done {
		jobLog.Info().Msg("collector: задача уже выполнена, подтверждаем")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("collector: не удалось подтвердить ранее выполненную задачу")
		}
		return
	}

	outcome := w.handleJob(ctx, job, attempt, jobLog)

	if outcome == jobOutcomeRetry && attempt < maxDeliveryAttempts {
		jobLog.Warn().Msg("collector: задача завершилась ошибкой, повторим позже")
		if err := ack(false); err != nil {
			jobLog.Error().Err(err).Msg("collector: не удалось вернуть задачу после ошибки")
		}
		return
	}
	if outcome == jobOutcomeRetry {
		jobLog.Error().Msg("collector: достигнут предел попыток, помечаем задачу завершённой")
		w.notify(ctx, job.ChatID, "Не удалось собрать статистику, попробуйте позже.", jobLog)
	}

	if err := w.statuses.MarkCollectJobDone(ctx, job.ID); err != nil {
		jobLog.Error().Err(err).Msg("collector: не удалось пометить задачу завершённой")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("collector: не удалось вернуть задачу после ошибки статуса")
		}
		w.sleep(ctx)
		return
	}

	if err := ack(true); err != nil {
		jobLog.Error().Err(err).Msg("collector: не удалось подтвердить задачу")
	}
}

func (w *jobWorker) handleJob(ctx context.Context, job domain.CollectJob, attempt int, jobLog zerolog.Logger) jobOutcome {
	summary, err := w.collector.Run(ctx, job)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			jobLog.Warn().Err(err).Msg("collector: канал не найден")
			w.notify(ctx, job.ChatID, "Канал не найден, сбор пропущен.", jobLog)
			return jobOutcomeCompleted
		}
		jobLog.Error().Err(err).Msg("collector: ошибка сбора")
		return jobOutcomeRetry
	}

	for _, failed := range summary.Failed {
		jobLog.Warn().Err(failed.Err).Int64("failed_channel", failed.ChannelID).Msg("collector: канал собран с ошибкой")
	}
	jobLog.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", len(summary.Failed)).
		Msg("collector: сбор завершён")

	if job.Cause == domain.CollectCauseManual {
		w.notify(ctx, job.ChatID, summary.Text(), jobLog)
	}
	return jobOutcomeCompleted
}

func (w *jobWorker) notify(ctx context.Context, chatID int64, text string, jobLog zerolog.Logger) {
	if chatID == 0 || w.sender == nil {
		return
	}
	if err := w.sender.SendText(ctx, chatID, text); err != nil {
		jobLog.Error().Err(err).Msg("collector: не удалось отправить итог сбора")
	}
}

func (w *jobWorker) sleep(ctx context.Context) {
	if w.pause <= 0 {
		return
	}
	timer := time.NewTimer(w.pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
