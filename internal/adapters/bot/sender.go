package bot

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-finance-bot/internal/adapters/telegram"
	"tg-finance-bot/internal/infra/metrics"
)

// API — часть tgbotapi.BotAPI, которой пользуется адаптер.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

var _ API = (*tgbotapi.BotAPI)(nil)

// Sender отправляет сообщения с разбиением по лимиту Telegram.
type Sender struct {
	api API
	log zerolog.Logger
}

// NewSender создаёт отправителя.
func NewSender(api API, log zerolog.Logger) *Sender {
	return &Sender{api: api, log: log}
}

// SendText отправляет HTML-текст в чат.
func (s *Sender) SendText(_ context.Context, chatID int64, text string) error {
	return s.send(chatID, text, tgbotapi.ModeHTML, nil)
}

// SendPlain отправляет текст без разметки, ошибки только логируются.
func (s *Sender) SendPlain(chatID int64, text string) {
	if err := s.send(chatID, text, "", nil); err != nil {
		s.log.Error().Err(err).Int64("chat", chatID).Msg("bot: не удалось отправить сообщение")
	}
}

func (s *Sender) reply(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	if err := s.send(chatID, text, tgbotapi.ModeHTML, markup); err != nil {
		s.log.Error().Err(err).Int64("chat", chatID).Msg("bot: не удалось отправить сообщение")
	}
}

// send прикрепляет клавиатуру к последней части, чтобы кнопки оказались под текстом.
func (s *Sender) send(chatID int64, text, parseMode string, markup *tgbotapi.InlineKeyboardMarkup) error {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = parseMode
		msg.DisableWebPagePreview = true
		if i == len(parts)-1 && markup != nil {
			msg.ReplyMarkup = markup
		}
		start := time.Now()
		_, err := s.api.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			return err
		}
	}
	return nil
}

func (s *Sender) edit(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	var cfg tgbotapi.EditMessageTextConfig
	if markup != nil {
		cfg = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *markup)
	} else {
		cfg = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	cfg.ParseMode = tgbotapi.ModeHTML
	cfg.DisableWebPagePreview = true

	start := time.Now()
	_, err := s.api.Send(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_message", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		metrics.BotSendErrors.Inc()
		s.log.Warn().Err(err).Int64("chat", chatID).Msg("bot: не удалось отредактировать сообщение, отправляем новое")
		s.reply(chatID, text, markup)
	}
}

func (s *Sender) answerCallback(id, text string) {
	start := time.Now()
	_, err := s.api.Request(tgbotapi.NewCallback(id, text))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", "callback", start, err)
	if err != nil {
		s.log.Warn().Err(err).Msg("bot: не удалось ответить на callback")
	}
}
