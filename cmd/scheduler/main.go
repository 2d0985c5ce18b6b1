package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-finance-bot/internal/adapters/bot"
	"tg-finance-bot/internal/adapters/repo"
	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/config"
	"tg-finance-bot/internal/infra/cron"
	"tg-finance-bot/internal/infra/db"
	applog "tg-finance-bot/internal/infra/log"
	"tg-finance-bot/internal/infra/metrics"
	"tg-finance-bot/internal/infra/queue"
	"tg-finance-bot/internal/usecase/notify"
	"tg-finance-bot/internal/usecase/report"
)

const taskTimeout = 10 * time.Minute

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if err := cfg.Validate(config.RequireBot); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректная конфигурация")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: неизвестный часовой пояс")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
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
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь")
	}
	defer closeQueue()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось создать бота")
	}

	reportEngine := report.NewEngine(repoAdapter, cfg.CategoryGroups(), cfg.Currency)
	notifyService := notify.NewService(repoAdapter, reportEngine, bot.NewSender(botAPI, logger), loc, applog.Component(logger, "notify"))

	manager := cron.NewManager(loc, taskTimeout, applog.Component(logger, "scheduler"))
	if err := manager.Register("daily_collect", cfg.Collect.Cron, enqueueDailyCollect(collectQueue)); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректное расписание сбора")
	}
	if err := manager.Register("daily_stats", cfg.NotifyCron, func(ctx context.Context) error {
		sent, err := notifyService.SendDaily(ctx)
		logger.Info().Int("sent", sent).Msg("scheduler: ежедневная статистика разослана")
		return err
	}); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректное расписание уведомлений")
	}

	manager.Run(ctx)
}

// enqueueDailyCollect ставит задачу сбора по всем активным каналам.
func enqueueDailyCollect(q domain.CollectQueue) cron.Task {
	return func(ctx context.Context) error {
		job := domain.CollectJob{
			ID:          uuid.NewString(),
			RequestedAt: time.Now().UTC(),
			Cause:       domain.CollectCauseScheduled,
		}
		if err := q.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("постановка задачи сбора: %w", err)
		}
		return nil
	}
}
