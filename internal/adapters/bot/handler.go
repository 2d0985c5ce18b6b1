package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
	"tg-finance-bot/internal/usecase/ledger"
	"tg-finance-bot/internal/usecase/report"
)

const collectNowThrottle = 5 * time.Minute

// LedgerFlow ведёт сценарий ввода операции.
type LedgerFlow interface {
	Handle(ctx context.Context, user domain.User, in ledger.Input) (ledger.Outcome, error)
	Current(ctx context.Context, tgUserID int64) (ledger.Step, ledger.Draft, error)
	Currency() string
}

// ChannelManager управляет реестром каналов.
type ChannelManager interface {
	Register(ctx context.Context, reg domain.ChannelRegistration, chatID int64) (domain.Channel, bool, error)
	List(ctx context.Context, limit int) ([]domain.Channel, error)
	TogglePause(ctx context.Context, channelID int64) (domain.Channel, error)
	Delete(ctx context.Context, channelID int64) error
	DeactivateLegacy(ctx context.Context) (int64, error)
}

// ReportBuilder строит отчёты.
type ReportBuilder interface {
	Build(ctx context.Context, req report.Request) (report.Report, error)
}

// NotifySettings переключает ежедневную статистику.
type NotifySettings interface {
	SetDaily(ctx context.Context, tgUserID int64, enabled bool) error
}

// Deps — зависимости обработчика.
type Deps struct {
	Users     domain.UserRepo
	Ledger    LedgerFlow
	Channels  ChannelManager
	Reports   ReportBuilder
	Notify    NotifySettings
	Queue     domain.CollectQueue
	Throttle  domain.Cache
	Whitelist []int64
	Location  *time.Location
	RateLimit time.Duration
}

// Handler обслуживает апдейты бота.
type Handler struct {
	deps    Deps
	sender  *Sender
	log     zerolog.Logger
	allowed map[int64]struct{}
	limiter *rateLimiter
	now     func() time.Time
}

// NewHandler создаёт обработчик.
func NewHandler(api API, deps Deps, log zerolog.Logger) *Handler {
	allowed := make(map[int64]struct{}, len(deps.Whitelist))
	for _, id := range deps.Whitelist {
		allowed[id] = struct{}{}
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Handler{
		deps:    deps,
		sender:  NewSender(api, log),
		log:     log,
		allowed: allowed,
		limiter: newRateLimiter(deps.RateLimit),
		now:     time.Now,
	}
}

// HandleUpdate обрабатывает входящий апдейт. Паника в обработчике логируется и не роняет процесс.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	from, chat := updateOrigin(upd)
	if from == nil || chat == nil {
		metrics.IncBotUpdate("ignored")
		return
	}
	if !chat.IsPrivate() {
		metrics.IncBotUpdate("non_private")
		return
	}

	updLog := h.log.With().
		Int("update_id", upd.UpdateID).
		Int64("user", from.ID).
		Int64("chat", chat.ID).
		Str("payload", updatePayload(upd)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			metrics.IncBotUpdate("panic")
			updLog.Error().Interface("panic", r).Str("step", h.currentStep(ctx, from.ID)).Msg("bot: паника при обработке апдейта")
			h.sender.SendPlain(chat.ID, "Что-то пошло не так. Попробуйте ещё раз.")
		}
	}()

	if _, ok := h.allowed[from.ID]; !ok {
		metrics.IncBotUpdate("denied")
		updLog.Warn().Msg("bot: доступ запрещён")
		if upd.CallbackQuery != nil {
			h.sender.answerCallback(upd.CallbackQuery.ID, "Доступ запрещён")
			return
		}
		h.sender.SendPlain(chat.ID, "Доступ запрещён")
		return
	}

	if err := h.limiter.Wait(ctx, from.ID); err != nil {
		return
	}

	user, _, err := h.deps.Users.UpsertUser(ctx, domain.TelegramProfile{
		TGUserID:  from.ID,
		FirstName: from.FirstName,
		LastName:  from.LastName,
		Username:  from.UserName,
	})
	if err != nil {
		updLog.Error().Err(err).Msg("bot: не удалось сохранить пользователя")
		h.sender.SendPlain(chat.ID, "Сервис временно недоступен, попробуйте позже.")
		return
	}

	updLog.Info().Str("step", h.currentStep(ctx, from.ID)).Msg("bot: апдейт")

	switch {
	case upd.CallbackQuery != nil:
		metrics.IncBotUpdate("callback")
		h.handleCallback(ctx, user, upd.CallbackQuery, updLog)
	case upd.Message != nil:
		metrics.IncBotUpdate("message")
		h.handleMessage(ctx, user, upd.Message, updLog)
	}
}

func (h *Handler) handleMessage(ctx context.Context, user domain.User, msg *tgbotapi.Message, log zerolog.Logger) {
	chatID := msg.Chat.ID
	if msg.ForwardFromChat != nil && msg.ForwardFromChat.IsChannel() {
		h.handleForward(ctx, user, chatID, msg.ForwardFromChat)
		return
	}

	if !msg.IsCommand() {
		h.runFlow(ctx, user, chatID, 0, "", ledger.Input{Kind: ledger.InputText, Text: msg.Text}, log)
		return
	}

	args := strings.Fields(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		h.sender.reply(chatID, helpText, nil)
	case "add":
		h.runFlow(ctx, user, chatID, 0, "", ledger.Input{Kind: ledger.InputStart}, log)
	case "in":
		h.runFlow(ctx, user, chatID, 0, "", ledger.Input{Kind: ledger.InputStart, Type: domain.OperationIncome}, log)
	case "out":
		h.runFlow(ctx, user, chatID, 0, "", ledger.Input{Kind: ledger.InputStart, Type: domain.OperationExpense}, log)
	case "invest":
		h.runFlow(ctx, user, chatID, 0, "", ledger.Input{Kind: ledger.InputStart, Type: domain.OperationInvestment}, log)
	case "cancel":
		h.runFlow(ctx, user, chatID, 0, "", ledger.Input{Kind: ledger.InputCancel}, log)
	case "report":
		h.handleReport(ctx, chatID, args, log)
	case "channels":
		h.handleChannels(ctx, chatID, log)
	case "notify":
		h.handleNotify(ctx, user, chatID, args, log)
	case "collect_now":
		h.handleCollectNow(ctx, chatID, log)
	case "deactivate_legacy":
		h.handleDeactivateLegacy(ctx, chatID, log)
	default:
		h.sender.reply(chatID, "Неизвестная команда.\n\n"+helpText, nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, user domain.User, cb *tgbotapi.CallbackQuery, log zerolog.Logger) {
	chatID := cb.Message.Chat.ID
	if in, ok := parseOperationCallback(cb.Data); ok {
		h.runFlow(ctx, user, chatID, cb.Message.MessageID, cb.ID, in, log)
		return
	}
	if action, ok := parseChannelCallback(cb.Data); ok {
		h.sender.answerCallback(cb.ID, "")
		h.handleChannelAction(ctx, chatID, cb.Message.MessageID, action, log)
		return
	}
	if period, offset, ok := parseReportCallback(cb.Data); ok {
		h.sender.answerCallback(cb.ID, "")
		h.sendReport(ctx, chatID, period, offset, log)
		return
	}
	h.sender.answerCallback(cb.ID, "Кнопка устарела")
}

// runFlow передаёт действие в сценарий ввода. messageID != 0 означает, что сообщение с кнопками можно отредактировать,
// callbackID непуст, если действие пришло нажатием кнопки.
func (h *Handler) runFlow(ctx context.Context, user domain.User, chatID int64, messageID int, callbackID string, in ledger.Input, log zerolog.Logger) {
	out, err := h.deps.Ledger.Handle(ctx, user, in)
	if callbackID != "" {
		if err == nil && out.Effect.Kind == ledger.EffectNone {
			// Диалога уже нет: повторное нажатие не должно затирать итог на сообщении.
			h.sender.answerCallback(callbackID, "Операция уже обработана")
			return
		}
		h.sender.answerCallback(callbackID, "")
	}
	if err != nil {
		var storageErr *domain.StorageError
		if errors.As(err, &storageErr) {
			log.Error().Err(err).Str("op", storageErr.Op).Msg("bot: сбой хранилища в сценарии ввода")
			if out.Effect.Kind == ledger.EffectCommit {
				h.sender.SendPlain(chatID, "Не удалось сохранить операцию. Ввод сброшен, попробуйте ещё раз.")
				return
			}
			h.sender.SendPlain(chatID, "Хранилище временно недоступно. Введённые данные сохранены, повторите действие позже.")
			return
		}
		log.Error().Err(err).Msg("bot: ошибка сценария ввода")
		h.sender.SendPlain(chatID, "Не удалось обработать действие, попробуйте позже.")
		return
	}

	if out.Committed != nil {
		log.Info().Int64("operation", out.Committed.ID).Msg("bot: операция сохранена")
	}
	if out.Duplicate != nil {
		log.Info().Int64("operation", out.Duplicate.ID).Msg("bot: повторное подтверждение сведено к существующей операции")
	}

	next := outcomeScreen(out, h.deps.Ledger.Currency(), h.deps.Location)
	if messageID != 0 {
		h.sender.edit(chatID, messageID, next.text, next.markup)
		return
	}
	h.sender.reply(chatID, next.text, next.markup)
}

func (h *Handler) handleForward(ctx context.Context, user domain.User, chatID int64, from *tgbotapi.Chat) {
	channel, created, err := h.deps.Channels.Register(ctx, domain.ChannelRegistration{
		TGChatID: from.ID,
		Title:    from.Title,
		Username: from.UserName,
		AddedBy:  user.ID,
	}, chatID)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_chat", from.ID).Msg("bot: не удалось зарегистрировать канал")
		h.sender.SendPlain(chatID, "Не удалось добавить канал, попробуйте позже.")
		return
	}
	name := html.EscapeString(channel.DisplayName())
	if created {
		h.sender.reply(chatID, fmt.Sprintf("Канал <b>%s</b> добавлен. Статистика будет собрана в ближайшее время.", name), nil)
		return
	}
	h.sender.reply(chatID, fmt.Sprintf("Канал <b>%s</b> обновлён и включён.", name), nil)
}

func (h *Handler) handleReport(ctx context.Context, chatID int64, args []string, log zerolog.Logger) {
	period := ""
	offset := 0
	for _, arg := range args {
		switch strings.ToLower(arg) {
		case "prev", "прошлый", "прошлая", "-1":
			offset = -1
		default:
			period = arg
		}
	}
	if _, err := report.ParsePeriod(period); err != nil {
		h.sender.reply(chatID, "Период: day, week или month. Пример: /report month prev", nil)
		return
	}
	h.sendReport(ctx, chatID, period, offset, log)
}

func (h *Handler) sendReport(ctx context.Context, chatID int64, rawPeriod string, offset int, log zerolog.Logger) {
	period, err := report.ParsePeriod(rawPeriod)
	if err != nil {
		h.sender.SendPlain(chatID, "Неизвестный период отчёта")
		return
	}
	window, err := report.NewWindow(period, h.now(), h.deps.Location, offset)
	if err != nil {
		h.sender.SendPlain(chatID, "Неизвестный период отчёта")
		return
	}
	rep, err := h.deps.Reports.Build(ctx, report.Request{Window: window})
	if err != nil {
		log.Error().Err(err).Str("period", string(period)).Msg("bot: не удалось построить отчёт")
		h.sender.SendPlain(chatID, "Не удалось построить отчёт, попробуйте позже.")
		return
	}
	markup := reportKeyboard()
	h.sender.reply(chatID, report.FormatReport(rep), &markup)
}

func (h *Handler) handleChannels(ctx context.Context, chatID int64, log zerolog.Logger) {
	list, err := h.deps.Channels.List(ctx, 0)
	if err != nil {
		log.Error().Err(err).Msg("bot: не удалось получить каналы")
		h.sender.SendPlain(chatID, "Не удалось получить список каналов, попробуйте позже.")
		return
	}
	if len(list) == 0 {
		h.sender.reply(chatID, "Каналов пока нет. Перешлите пост из канала, чтобы добавить его.", nil)
		return
	}
	markup := channelAdminKeyboard(list)
	h.sender.reply(chatID, formatChannelList(list, h.deps.Location), &markup)
}

func (h *Handler) handleChannelAction(ctx context.Context, chatID int64, messageID int, action channelAction, log zerolog.Logger) {
	var err error
	switch action.Action {
	case "toggle":
		_, err = h.deps.Channels.TogglePause(ctx, action.ChannelID)
	case "del":
		err = h.deps.Channels.Delete(ctx, action.ChannelID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.sender.SendPlain(chatID, "Канал не найден")
			return
		}
		log.Error().Err(err).Int64("channel", action.ChannelID).Str("action", action.Action).Msg("bot: не удалось изменить канал")
		h.sender.SendPlain(chatID, "Не удалось изменить канал, попробуйте позже.")
		return
	}

	list, err := h.deps.Channels.List(ctx, 0)
	if err != nil {
		log.Error().Err(err).Msg("bot: не удалось обновить список каналов")
		return
	}
	markup := channelAdminKeyboard(list)
	h.sender.edit(chatID, messageID, formatChannelList(list, h.deps.Location), &markup)
}

func (h *Handler) handleNotify(ctx context.Context, user domain.User, chatID int64, args []string, log zerolog.Logger) {
	if len(args) == 0 {
		state := "выключена"
		if user.NotifyDailyStats {
			state = "включена"
		}
		h.sender.reply(chatID, fmt.Sprintf("Ежедневная статистика %s. Используйте /notify on или /notify off.", state), nil)
		return
	}
	var enabled bool
	switch strings.ToLower(args[0]) {
	case "on", "вкл":
		enabled = true
	case "off", "выкл":
		enabled = false
	default:
		h.sender.reply(chatID, "Используйте /notify on или /notify off.", nil)
		return
	}
	if err := h.deps.Notify.SetDaily(ctx, user.TGUserID, enabled); err != nil {
		log.Error().Err(err).Bool("enabled", enabled).Msg("bot: не удалось изменить подписку")
		h.sender.SendPlain(chatID, "Не удалось сохранить настройку, попробуйте позже.")
		return
	}
	if enabled {
		h.sender.reply(chatID, "Ежедневная статистика включена. Отчёт за вчера придёт в 09:00.", nil)
		return
	}
	h.sender.reply(chatID, "Ежедневная статистика выключена.", nil)
}

func (h *Handler) handleCollectNow(ctx context.Context, chatID int64, log zerolog.Logger) {
	job := domain.CollectJob{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		RequestedAt: h.now().UTC(),
		Cause:       domain.CollectCauseManual,
	}
	enqueue := func() error { return h.deps.Queue.Enqueue(ctx, job) }

	var err error
	if h.deps.Throttle != nil {
		err = h.deps.Throttle.Once(ctx, "finance:collect_now", collectNowThrottle, enqueue)
	} else {
		err = enqueue()
	}
	switch {
	case errors.Is(err, domain.ErrThrottled):
		h.sender.reply(chatID, "Сбор уже запускался в последние 5 минут, дождитесь результата.", nil)
	case err != nil:
		log.Error().Err(err).Msg("bot: не удалось поставить задачу сбора")
		h.sender.SendPlain(chatID, "Не удалось запустить сбор, попробуйте позже.")
	default:
		log.Info().Str("job_id", job.ID).Msg("bot: задача сбора поставлена")
		h.sender.reply(chatID, "Сбор статистики запущен, пришлю итог по завершении.", nil)
	}
}

func (h *Handler) handleDeactivateLegacy(ctx context.Context, chatID int64, log zerolog.Logger) {
	n, err := h.deps.Channels.DeactivateLegacy(ctx)
	if err != nil {
		log.Error().Err(err).Msg("bot: не удалось отключить старые каналы")
		h.sender.SendPlain(chatID, "Не удалось отключить каналы, попробуйте позже.")
		return
	}
	h.sender.reply(chatID, fmt.Sprintf("Отключено каналов без автора регистрации: %d", n), nil)
}

func (h *Handler) currentStep(ctx context.Context, tgUserID int64) string {
	step, _, err := h.deps.Ledger.Current(ctx, tgUserID)
	if err != nil {
		return "unknown"
	}
	return string(step)
}

func formatChannelList(list []domain.Channel, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("<b>Каналы</b>\n")
	for i, ch := range list {
		state := "активен"
		if !ch.IsActive {
			state = "на паузе"
		}
		fmt.Fprintf(&b, "\n%d. %s: %s", i+1, html.EscapeString(ch.DisplayName()), state)
		if ch.LastSuccessAt != nil {
			fmt.Fprintf(&b, ", сбор %s", ch.LastSuccessAt.In(loc).Format("02.01 15:04"))
		}
		if ch.LastError != "" {
			fmt.Fprintf(&b, "\n   ⚠️ %s", html.EscapeString(ch.LastError))
		}
	}
	return b.String()
}

func updateOrigin(upd tgbotapi.Update) (*tgbotapi.User, *tgbotapi.Chat) {
	switch {
	case upd.CallbackQuery != nil && upd.CallbackQuery.Message != nil:
		return upd.CallbackQuery.From, upd.CallbackQuery.Message.Chat
	case upd.Message != nil:
		return upd.Message.From, upd.Message.Chat
	}
	return nil, nil
}

func updatePayload(upd tgbotapi.Update) string {
	switch {
	case upd.CallbackQuery != nil:
		return "callback:" + upd.CallbackQuery.Data
	case upd.Message != nil && upd.Message.ForwardFromChat != nil:
		return fmt.Sprintf("forward:%d", upd.Message.ForwardFromChat.ID)
	case upd.Message != nil:
		return upd.Message.Text
	}
	return ""
}
