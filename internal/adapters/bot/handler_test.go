package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/usecase/ledger"
	"tg-finance-bot/internal/usecase/report"
)

type fakeAPI struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	callbacks []tgbotapi.CallbackConfig
	sendErr   error
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.callbacks = append(f.callbacks, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			out = append(out, m.Text)
		case tgbotapi.EditMessageTextConfig:
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeAPI) last() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[int64]domain.User
	err   error
}

func (f *fakeUsers) UpsertUser(_ context.Context, p domain.TelegramProfile) (domain.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.User{}, false, f.err
	}
	if f.users == nil {
		f.users = make(map[int64]domain.User)
	}
	u, ok := f.users[p.TGUserID]
	if !ok {
		u = domain.User{ID: int64(len(f.users) + 1), TGUserID: p.TGUserID}
	}
	u.FirstName, u.LastName, u.Username = p.FirstName, p.LastName, p.Username
	f.users[p.TGUserID] = u
	return u, !ok, nil
}

func (f *fakeUsers) GetUserByTGID(_ context.Context, id int64) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) SetNotifyDailyStats(context.Context, int64, bool) error { return nil }

func (f *fakeUsers) ListNotifiableUsers(context.Context) ([]domain.User, error) { return nil, nil }

type fakeFlow struct {
	inputs  []ledger.Input
	outcome ledger.Outcome
	err     error
}

func (f *fakeFlow) Handle(_ context.Context, _ domain.User, in ledger.Input) (ledger.Outcome, error) {
	f.inputs = append(f.inputs, in)
	return f.outcome, f.err
}

func (f *fakeFlow) Current(context.Context, int64) (ledger.Step, ledger.Draft, error) {
	return ledger.StepIdle, ledger.Draft{}, nil
}

func (f *fakeFlow) Currency() string { return "RUB" }

type fakeChannels struct {
	registered []domain.ChannelRegistration
	list       []domain.Channel
	toggled    []int64
	deleted    []int64
	legacy     int64
}

func (f *fakeChannels) Register(_ context.Context, reg domain.ChannelRegistration, _ int64) (domain.Channel, bool, error) {
	f.registered = append(f.registered, reg)
	return domain.Channel{ID: 1, TGChatID: reg.TGChatID, Title: reg.Title, IsActive: true}, len(f.registered) == 1, nil
}

func (f *fakeChannels) List(context.Context, int) ([]domain.Channel, error) { return f.list, nil }

func (f *fakeChannels) TogglePause(_ context.Context, id int64) (domain.Channel, error) {
	for i := range f.list {
		if f.list[i].ID == id {
			f.list[i].IsActive = !f.list[i].IsActive
			f.toggled = append(f.toggled, id)
			return f.list[i], nil
		}
	}
	return domain.Channel{}, domain.ErrNotFound
}

func (f *fakeChannels) Delete(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeChannels) DeactivateLegacy(context.Context) (int64, error) { return f.legacy, nil }

type fakeReports struct {
	requests []report.Request
}

func (f *fakeReports) Build(_ context.Context, req report.Request) (report.Report, error) {
	f.requests = append(f.requests, req)
	return report.Report{Window: req.Window, Currency: "RUB"}, nil
}

type fakeNotify struct {
	calls map[int64]bool
}

func (f *fakeNotify) SetDaily(_ context.Context, id int64, enabled bool) error {
	if f.calls == nil {
		f.calls = make(map[int64]bool)
	}
	f.calls[id] = enabled
	return nil
}

type fakeQueue struct {
	jobs []domain.CollectJob
}

func (f *fakeQueue) Enqueue(_ context.Context, job domain.CollectJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) Receive(ctx context.Context) (domain.CollectJob, domain.AckFunc, error) {
	<-ctx.Done()
	return domain.CollectJob{}, nil, ctx.Err()
}

// onceCache запоминает ключи без учёта TTL.
type onceCache struct {
	keys map[string]struct{}
}

func (c *onceCache) Once(_ context.Context, key string, _ time.Duration, fn func() error) error {
	if c.keys == nil {
		c.keys = make(map[string]struct{})
	}
	if _, ok := c.keys[key]; ok {
		return domain.ErrThrottled
	}
	c.keys[key] = struct{}{}
	if err := fn(); err != nil {
		delete(c.keys, key)
		return err
	}
	return nil
}

const operatorID = 42

type handlerFixture struct {
	h        *Handler
	api      *fakeAPI
	flow     *fakeFlow
	channels *fakeChannels
	reports  *fakeReports
	notify   *fakeNotify
	queue    *fakeQueue
}

func newFixture() *handlerFixture {
	f := &handlerFixture{
		api:      &fakeAPI{},
		flow:     &fakeFlow{outcome: ledger.Outcome{Step: ledger.StepChoosingType, Effect: ledger.Effect{Kind: ledger.EffectPrompt}}},
		channels: &fakeChannels{},
		reports:  &fakeReports{},
		notify:   &fakeNotify{},
		queue:    &fakeQueue{},
	}
	f.h = NewHandler(f.api, Deps{
		Users:     &fakeUsers{},
		Ledger:    f.flow,
		Channels:  f.channels,
		Reports:   f.reports,
		Notify:    f.notify,
		Queue:     f.queue,
		Throttle:  &onceCache{},
		Whitelist: []int64{operatorID},
		Location:  time.UTC,
	}, zerolog.Nop())
	f.h.now = func() time.Time { return time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC) }
	return f
}

func privateChat() *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: operatorID, Type: "private"}
}

func commandUpdate(from int64, text string) tgbotapi.Update {
	cmd := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: from},
		Chat:     &tgbotapi.Chat{ID: from, Type: "private"},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func textUpdate(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: operatorID},
		Chat: privateChat(),
		Text: text,
	}}
}

func callbackUpdate(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: operatorID},
		Message: &tgbotapi.Message{MessageID: 77, Chat: privateChat()},
		Data:    data,
	}}
}

func TestHandlerRejectsUnknownUser(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), commandUpdate(999, "/add"))

	assert.Equal(t, "Доступ запрещён", f.api.last())
	assert.Empty(t, f.flow.inputs)
}

func TestHandlerIgnoresGroupChats(t *testing.T) {
	f := newFixture()
	upd := commandUpdate(operatorID, "/add")
	upd.Message.Chat.Type = "supergroup"
	f.h.HandleUpdate(context.Background(), upd)

	assert.Empty(t, f.api.texts())
	assert.Empty(t, f.flow.inputs)
}

func TestHandlerStartsFlowWithPresetType(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), commandUpdate(operatorID, "/out"))

	require.Len(t, f.flow.inputs, 1)
	assert.Equal(t, ledger.InputStart, f.flow.inputs[0].Kind)
	assert.Equal(t, domain.OperationExpense, f.flow.inputs[0].Type)
	assert.Contains(t, f.api.last(), "Выберите тип операции")
}

func TestHandlerPassesTextToFlow(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), textUpdate("1 500"))

	require.Len(t, f.flow.inputs, 1)
	assert.Equal(t, ledger.Input{Kind: ledger.InputText, Text: "1 500"}, f.flow.inputs[0])
}

func TestHandlerCallbackEditsMessage(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), callbackUpdate(opData("cat", "5")))

	require.Len(t, f.flow.inputs, 1)
	assert.Equal(t, ledger.Input{Kind: ledger.InputSelectCategory, ID: 5}, f.flow.inputs[0])
	require.Len(t, f.api.callbacks, 1)

	require.Len(t, f.api.sent, 1)
	edit, ok := f.api.sent[0].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok, "ожидалось редактирование сообщения")
	assert.Equal(t, 77, edit.MessageID)
}

func TestHandlerUnknownCallback(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), callbackUpdate("legacy:1"))

	require.Len(t, f.api.callbacks, 1)
	assert.Equal(t, "Кнопка устарела", f.api.callbacks[0].Text)
	assert.Empty(t, f.flow.inputs)
}

func TestHandlerReportsStorageError(t *testing.T) {
	f := newFixture()
	f.flow.outcome = ledger.Outcome{Step: ledger.StepIdle, Effect: ledger.Effect{Kind: ledger.EffectCommit}}
	f.flow.err = &domain.StorageError{Op: "create operation", Err: errors.New("conn refused")}
	f.h.HandleUpdate(context.Background(), callbackUpdate(opData("confirm")))

	assert.Contains(t, f.api.last(), "Не удалось сохранить операцию")
	assert.Contains(t, f.api.last(), "Ввод сброшен")
}

func TestHandlerCatalogFailureKeepsDraft(t *testing.T) {
	f := newFixture()
	f.flow.outcome = ledger.Outcome{}
	f.flow.err = &domain.StorageError{Op: "list_categories", Err: errors.New("conn refused")}
	f.h.HandleUpdate(context.Background(), textUpdate("500"))

	assert.Contains(t, f.api.last(), "Введённые данные сохранены")
	assert.NotContains(t, f.api.last(), "Ввод сброшен")
}

func TestHandlerRegistersForwardedChannel(t *testing.T) {
	f := newFixture()
	upd := textUpdate("")
	upd.Message.ForwardFromChat = &tgbotapi.Chat{ID: -1001234, Type: "channel", Title: "Финансы"}
	f.h.HandleUpdate(context.Background(), upd)

	require.Len(t, f.channels.registered, 1)
	reg := f.channels.registered[0]
	assert.Equal(t, int64(-1001234), reg.TGChatID)
	assert.Equal(t, int64(1), reg.AddedBy)
	assert.Contains(t, f.api.last(), "добавлен")
	assert.Empty(t, f.flow.inputs)
}

func TestHandlerReportUsesPreviousPeriod(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), commandUpdate(operatorID, "/report month prev"))

	require.Len(t, f.reports.requests, 1)
	w := f.reports.requests[0].Window
	assert.Equal(t, report.PeriodMonth, w.Period)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), w.End)
}

func TestHandlerReportRejectsUnknownPeriod(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), commandUpdate(operatorID, "/report year"))

	assert.Empty(t, f.reports.requests)
	assert.Contains(t, f.api.last(), "Период")
}

func TestHandlerNotifyToggle(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), commandUpdate(operatorID, "/notify on"))
	assert.True(t, f.notify.calls[operatorID])

	f.h.HandleUpdate(context.Background(), commandUpdate(operatorID, "/notify off"))
	assert.False(t, f.notify.calls[operatorID])
}

func TestHandlerCollectNowIsThrottled(t *testing.T) {
	f := newFixture()
	f.h.HandleUpdate(context.Background(), commandUpdate(operatorID, "/collect_now"))
	f.h.HandleUpdate(context.Background(), commandUpdate(operatorID, "/collect_now"))

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, domain.CollectCauseManual, job.Cause)
	assert.Equal(t, int64(operatorID), job.ChatID)
	assert.NotEmpty(t, job.ID)
	assert.Contains(t, f.api.last(), "5 минут")
}

func TestHandlerChannelToggle(t *testing.T) {
	f := newFixture()
	f.channels.list = []domain.Channel{{ID: 3, Title: "Новости", IsActive: true}}
	f.h.HandleUpdate(context.Background(), callbackUpdate(channelData("toggle", 3)))

	assert.Equal(t, []int64{3}, f.channels.toggled)
	assert.Contains(t, f.api.last(), "на паузе")
}

func TestHandlerUserStoreFailure(t *testing.T) {
	f := newFixture()
	f.h.deps.Users = &fakeUsers{err: errors.New("db down")}
	f.h.HandleUpdate(context.Background(), commandUpdate(operatorID, "/add"))

	assert.Empty(t, f.flow.inputs)
	assert.Contains(t, f.api.last(), "временно недоступен")
}
