package main

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-finance-bot/internal/adapters/bot"
	"tg-finance-bot/internal/adapters/repo"
	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/cache"
	"tg-finance-bot/internal/infra/config"
	"tg-finance-bot/internal/infra/db"
	httpinfra "tg-finance-bot/internal/infra/http"
	applog "tg-finance-bot/internal/infra/log"
	"tg-finance-bot/internal/infra/metrics"
	"tg-finance-bot/internal/infra/queue"
	"tg-finance-bot/internal/usecase/channels"
	"tg-finance-bot/internal/usecase/ledger"
	"tg-finance-bot/internal/usecase/notify"
	"tg-finance-bot/internal/usecase/report"
)

const pollingWorkers = 4

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if err := cfg.Validate(config.RequireBot); err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: некорректная конфигурация")
	}
	whitelist, _ := cfg.WhitelistIDs()
	if len(whitelist) == 0 {
		logger.Warn().Msg("bot-gateway: WHITELIST_USER_IDS пуст, бот будет отвечать отказом всем")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: неизвестный часовой пояс")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	seedCtx, seedCancel := context.WithTimeout(ctx, 10*time.Second)
	err = repoAdapter.SeedCategories(seedCtx, domain.DefaultCategories)
	seedCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось заполнить справочник статей")
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	memory := cache.NewMemory()
	var (
		conversations domain.ConversationStore = cache.NewMemoryConversations(memory)
		throttle      domain.Cache             = memory
	)
	if rdb != nil {
		throttle = cache.NewRedis(rdb)
	}
	if cfg.Conversation.Store == "redis" {
		if rdb == nil {
			logger.Fatal().Msg("bot-gateway: CONVERSATION_STORE=redis требует REDIS_ADDR")
		}
		conversations = cache.NewRedisConversationStore(rdb, "finance:conversation")
	}

	collectQueue, closeQueue, err := queue.Open(queue.Options{
		Driver:    cfg.Queues.Driver,
		Key:       cfg.Queues.Collect,
		Redis:     rdb,
		RabbitURL: cfg.RabbitURL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось инициализировать очередь сбора")
	}
	defer closeQueue()

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}

	groups := cfg.CategoryGroups()
	ledgerService := ledger.NewService(conversations, repoAdapter, repoAdapter, groups, cfg.Currency, applog.Component(logger, "ledger")).
		WithEvents(repoAdapter).
		WithTTL(cfg.Conversation.TTL)
	channelService := channels.NewService(repoAdapter, applog.Component(logger, "channels")).
		WithEvents(repoAdapter).
		WithQueue(collectQueue)
	reportEngine := report.NewEngine(repoAdapter, groups, cfg.Currency)
	notifyService := notify.NewService(repoAdapter, reportEngine, bot.NewSender(botAPI, logger), loc, applog.Component(logger, "notify"))

	h := bot.NewHandler(botAPI, bot.Deps{
		Users:     repoAdapter,
		Ledger:    ledgerService,
		Channels:  channelService,
		Reports:   reportEngine,
		Notify:    notifyService,
		Queue:     collectQueue,
		Throttle:  throttle,
		Whitelist: whitelist,
		Location:  loc,
		RateLimit: cfg.RateLimitInterval,
	}, applog.Component(logger, "bot"))

	if cfg.Telegram.WebhookURL == "" {
		runPolling(ctx, botAPI, h, cfg, logger)
		return
	}
	runWebhook(ctx, botAPI, h, cfg, logger)
}

func runWebhook(ctx context.Context, botAPI *tgbotapi.BotAPI, h *bot.Handler, cfg config.AppConfig, logger zerolog.Logger) {
	webhook, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: некорректный TG_WEBHOOK_URL")
	}
	if _, err := botAPI.Request(webhook); err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось установить вебхук")
	}

	server := httpinfra.NewServer(applog.Component(logger, "http"))
	server.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		update, err := botAPI.HandleUpdate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), *update)
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := server.Start(httpAddr(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("bot-gateway: HTTP сервер остановлен")
		}
	}()

	logger.Info().Str("webhook", cfg.Telegram.WebhookURL).Msg("бот-гейтвей запущен в режиме вебхука")
	<-ctx.Done()
	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func runPolling(ctx context.Context, botAPI *tgbotapi.BotAPI, h *bot.Handler, cfg config.AppConfig, logger zerolog.Logger) {
	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logger.Warn().Err(err).Msg("bot-gateway: не удалось снять вебхук")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := botAPI.GetUpdatesChan(u)

	logger.Info().Msg("бот-гейтвей запущен в режиме long polling")
	go func() {
		<-ctx.Done()
		botAPI.StopReceivingUpdates()
	}()
	h.Serve(ctx, updates, pollingWorkers)
	logger.Info().Msg("остановка бота")
}

func httpAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
