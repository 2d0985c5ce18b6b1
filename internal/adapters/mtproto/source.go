package mtproto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

const (
	historyPageSize = 100
	historyMaxPages = 20
	dialogsPageSize = 100

	botAPIChannelShift = 1_000_000_000_000
)

// ErrNotRunning возвращается при обращении к источнику вне Run.
var ErrNotRunning = errors.New("mtproto: клиент не запущен")

// ErrUnauthorized означает, что сохранённая сессия не авторизована.
var ErrUnauthorized = errors.New("mtproto: сессия не авторизована, импортируйте её заново")

type peer struct {
	input    *tg.InputChannel
	username string
}

// Source снимает метрики каналов через MTProto. Соединение живёт только внутри Run.
type Source struct {
	client *telegram.Client
	log    zerolog.Logger

	mu    sync.RWMutex
	api   *tg.Client
	peers map[int64]peer
}

var _ domain.AnalyticsSource = (*Source)(nil)

// NewSource создаёт источник аналитики поверх сохранённой сессии.
func NewSource(apiID int, apiHash string, storage session.Storage, log zerolog.Logger) *Source {
	client := telegram.NewClient(apiID, apiHash, telegram.Options{SessionStorage: storage})
	return &Source{client: client, log: log, peers: make(map[int64]peer)}
}

// Run подключается, проверяет авторизацию и выполняет f. После выхода из f соединение закрывается.
func (s *Source) Run(ctx context.Context, f func(ctx context.Context) error) error {
	return s.client.Run(ctx, func(ctx context.Context) error {
		start := time.Now()
		status, err := s.client.Auth().Status(ctx)
		metrics.ObserveNetworkRequest("mtproto", "auth_status", "telegram", start, err)
		if err != nil {
			return fmt.Errorf("проверка авторизации: %w", err)
		}
		if !status.Authorized {
			return ErrUnauthorized
		}

		s.mu.Lock()
		s.api = s.client.API()
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.api = nil
			s.mu.Unlock()
		}()

		s.log.Info().Msg("mtproto: клиент подключён")
		return f(ctx)
	})
}

// SubscriberCount возвращает текущее число подписчиков канала.
func (s *Source) SubscriberCount(ctx context.Context, ch domain.Channel) (int64, error) {
	full, _, err := s.fullChannel(ctx, ch)
	if err != nil {
		return 0, err
	}
	count, ok := full.GetParticipantsCount()
	if !ok {
		return 0, fmt.Errorf("mtproto: число подписчиков канала %d скрыто", ch.ID)
	}
	return int64(count), nil
}

// RecentPosts листает историю канала от новых к старым, пока не дойдёт до since.
func (s *Source) RecentPosts(ctx context.Context, ch domain.Channel, since time.Time) ([]domain.PostMetric, error) {
	api, err := s.apiClient()
	if err != nil {
		return nil, err
	}
	input, err := s.resolve(ctx, ch)
	if err != nil {
		return nil, err
	}
	inputPeer := &tg.InputPeerChannel{ChannelID: input.ChannelID, AccessHash: input.AccessHash}

	var (
		posts    []domain.PostMetric
		offsetID int
	)
	for page := 0; page < historyMaxPages; page++ {
		start := time.Now()
		res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     inputPeer,
			OffsetID: offsetID,
			Limit:    historyPageSize,
		})
		metrics.ObserveNetworkRequest("mtproto", "messages_get_history", "telegram", start, err)
		if err != nil {
			return nil, fmt.Errorf("история канала %d: %w", ch.ID, err)
		}

		messages := historyMessages(res)
		if len(messages) == 0 {
			return posts, nil
		}
		reachedSince := false
		for _, m := range messages {
			if offsetID == 0 || m.GetID() < offsetID {
				offsetID = m.GetID()
			}
			msg, ok := m.(*tg.Message)
			if !ok {
				continue
			}
			postedAt := time.Unix(int64(msg.Date), 0).UTC()
			if postedAt.Before(since) {
				reachedSince = true
				continue
			}
			posts = append(posts, postMetric(msg))
		}
		if reachedSince || len(messages) < historyPageSize {
			return posts, nil
		}
	}
	s.log.Warn().Int64("channel", ch.ID).Int("pages", historyMaxPages).Msg("mtproto: история обрезана по числу страниц")
	return posts, nil
}

// GrowthSeries загружает график подписок из статистики канала.
// Если статистика недоступна аккаунту, возвращается domain.ErrStatsUnavailable.
func (s *Source) GrowthSeries(ctx context.Context, ch domain.Channel) ([]domain.GrowthPoint, error) {
	full, input, err := s.fullChannel(ctx, ch)
	if err != nil {
		return nil, err
	}
	if !full.CanViewStats {
		return nil, domain.ErrStatsUnavailable
	}

	api, closeDC, err := s.statsClient(ctx, full)
	if err != nil {
		return nil, err
	}
	defer closeDC()

	stats, err := s.broadcastStats(ctx, api, input)
	var rpcErr *tgerr.Error
	if errors.As(err, &rpcErr) && rpcErr.IsType("STATS_MIGRATE") {
		migrated, closeMigrated, dcErr := s.dcClient(ctx, rpcErr.Argument)
		if dcErr != nil {
			return nil, dcErr
		}
		defer closeMigrated()
		api = migrated
		stats, err = s.broadcastStats(ctx, api, input)
	}
	if err != nil {
		return nil, statsError(err)
	}

	data, err := s.graphData(ctx, api, stats.FollowersGraph)
	if err != nil {
		return nil, err
	}
	return ParseFollowersGraph(data)
}

func (s *Source) broadcastStats(ctx context.Context, api *tg.Client, input *tg.InputChannel) (*tg.StatsBroadcastStats, error) {
	start := time.Now()
	stats, err := api.StatsGetBroadcastStats(ctx, &tg.StatsGetBroadcastStatsRequest{Channel: input})
	metrics.ObserveNetworkRequest("mtproto", "stats_get_broadcast_stats", "telegram", start, err)
	return stats, err
}

func (s *Source) graphData(ctx context.Context, api *tg.Client, graph tg.StatsGraphClass) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		switch g := graph.(type) {
		case *tg.StatsGraph:
			return []byte(g.JSON.Data), nil
		case *tg.StatsGraphError:
			return nil, fmt.Errorf("%w: %s", domain.ErrStatsUnavailable, g.Error)
		case *tg.StatsGraphAsync:
			start := time.Now()
			loaded, err := api.StatsLoadAsyncGraph(ctx, &tg.StatsLoadAsyncGraphRequest{Token: g.Token})
			metrics.ObserveNetworkRequest("mtproto", "stats_load_async_graph", "telegram", start, err)
			if err != nil {
				return nil, statsError(err)
			}
			graph = loaded
		default:
			return nil, fmt.Errorf("mtproto: неизвестный тип графика %T", graph)
		}
	}
	return nil, errors.New("mtproto: график подписок не загрузился")
}

func (s *Source) statsClient(ctx context.Context, full *tg.ChannelFull) (*tg.Client, func(), error) {
	api, err := s.apiClient()
	if err != nil {
		return nil, nil, err
	}
	dc, ok := full.GetStatsDC()
	if !ok || dc == 0 {
		return api, func() {}, nil
	}
	return s.dcClient(ctx, dc)
}

// dcClient открывает отдельное соединение с DC статистики. Его нужно закрыть вызовом close.
func (s *Source) dcClient(ctx context.Context, dc int) (*tg.Client, func(), error) {
	start := time.Now()
	invoker, err := s.client.DC(ctx, dc, 1)
	metrics.ObserveNetworkRequest("mtproto", "dc_connect", "telegram", start, err)
	if err != nil {
		return nil, nil, fmt.Errorf("подключение к DC %d: %w", dc, err)
	}
	closeFn := func() {
		if err := invoker.Close(); err != nil {
			s.log.Warn().Err(err).Int("dc", dc).Msg("mtproto: не удалось закрыть соединение с DC")
		}
	}
	return tg.NewClient(invoker), closeFn, nil
}

func (s *Source) fullChannel(ctx context.Context, ch domain.Channel) (*tg.ChannelFull, *tg.InputChannel, error) {
	api, err := s.apiClient()
	if err != nil {
		return nil, nil, err
	}
	input, err := s.resolve(ctx, ch)
	if err != nil {
		return nil, nil, err
	}

	start := time.Now()
	res, err := api.ChannelsGetFullChannel(ctx, input)
	metrics.ObserveNetworkRequest("mtproto", "channels_get_full_channel", "telegram", start, err)
	if err != nil {
		return nil, nil, fmt.Errorf("карточка канала %d: %w", ch.ID, err)
	}
	full, ok := res.FullChat.(*tg.ChannelFull)
	if !ok {
		return nil, nil, fmt.Errorf("mtproto: %d не является каналом", ch.TGChatID)
	}
	return full, input, nil
}

// resolve находит access hash канала: по username, иначе среди диалогов аккаунта.
func (s *Source) resolve(ctx context.Context, ch domain.Channel) (*tg.InputChannel, error) {
	channelID := ChannelIDFromChatID(ch.TGChatID)

	s.mu.RLock()
	cached, ok := s.peers[channelID]
	s.mu.RUnlock()
	if ok && (ch.Username == "" || cached.username == ch.Username) {
		return cached.input, nil
	}

	api, err := s.apiClient()
	if err != nil {
		return nil, err
	}

	var chats []tg.ChatClass
	if ch.Username != "" {
		start := time.Now()
		res, err := api.ContactsResolveUsername(ctx, ch.Username)
		metrics.ObserveNetworkRequest("mtproto", "contacts_resolve_username", "telegram", start, err)
		if err != nil {
			return nil, fmt.Errorf("поиск @%s: %w", ch.Username, err)
		}
		chats = res.Chats
	} else {
		start := time.Now()
		res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetPeer: &tg.InputPeerEmpty{},
			Limit:      dialogsPageSize,
		})
		metrics.ObserveNetworkRequest("mtproto", "messages_get_dialogs", "telegram", start, err)
		if err != nil {
			return nil, fmt.Errorf("список диалогов: %w", err)
		}
		if modified, ok := res.AsModified(); ok {
			chats = modified.GetChats()
		}
	}

	for _, chat := range chats {
		channel, ok := chat.(*tg.Channel)
		if !ok || channel.ID != channelID {
			continue
		}
		input := channel.AsInput()
		s.mu.Lock()
		s.peers[channelID] = peer{input: input, username: ch.Username}
		s.mu.Unlock()
		return input, nil
	}
	return nil, fmt.Errorf("mtproto: канал %d недоступен аккаунту сборщика", ch.TGChatID)
}

func (s *Source) apiClient() (*tg.Client, error) {
	api := s.currentAPI()
	if api == nil {
		return nil, ErrNotRunning
	}
	return api, nil
}

func (s *Source) currentAPI() *tg.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.api
}

// ChannelIDFromChatID переводит идентификатор чата Bot API (-100…) в идентификатор канала MTProto.
func ChannelIDFromChatID(chatID int64) int64 {
	if chatID < -botAPIChannelShift {
		return -chatID - botAPIChannelShift
	}
	if chatID < 0 {
		return -chatID
	}
	return chatID
}

func historyMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch r := res.(type) {
	case *tg.MessagesChannelMessages:
		return r.Messages
	case *tg.MessagesMessagesSlice:
		return r.Messages
	case *tg.MessagesMessages:
		return r.Messages
	default:
		return nil
	}
}

func postMetric(msg *tg.Message) domain.PostMetric {
	metric := domain.PostMetric{
		MessageID: int64(msg.ID),
		PostedAt:  time.Unix(int64(msg.Date), 0).UTC(),
	}
	if views, ok := msg.GetViews(); ok {
		metric.Views = int64(views)
	}
	if forwards, ok := msg.GetForwards(); ok {
		metric.Forwards = int64(forwards)
	}
	if reactions, ok := msg.GetReactions(); ok {
		for _, r := range reactions.Results {
			metric.Reactions += int64(r.Count)
		}
	}
	return metric
}

func statsError(err error) error {
	if tgerr.Is(err, "CHAT_ADMIN_REQUIRED", "BROADCAST_REQUIRED", "STATS_NOT_AVAILABLE") {
		return fmt.Errorf("%w: %v", domain.ErrStatsUnavailable, err)
	}
	return err
}
