package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"tg-finance-bot/internal/adapters/repo"
	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/config"
	"tg-finance-bot/internal/infra/db"
	httpinfra "tg-finance-bot/internal/infra/http"
	applog "tg-finance-bot/internal/infra/log"
	"tg-finance-bot/internal/infra/metrics"
	"tg-finance-bot/internal/usecase/report"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if err := cfg.Validate(config.RequireBot); err != nil {
		logger.Fatal().Err(err).Msg("api: некорректная конфигурация")
	}
	whitelist, _ := cfg.WhitelistIDs()
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("api: неизвестный часовой пояс")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	reportEngine := report.NewEngine(repoAdapter, cfg.CategoryGroups(), cfg.Currency)

	server := httpinfra.NewServer(applog.Component(logger, "http"))
	routes := &apiRoutes{
		reports:  reportEngine,
		channels: repoAdapter,
		loc:      loc,
		now:      time.Now,
		log:      applog.Component(logger, "api"),
	}
	server.Router.Group(func(protected chi.Router) {
		protected.Use(httpinfra.WebAppAuthMiddleware(cfg.Telegram.Token, whitelist))
		routes.mount(protected)
	})

	go func() {
		if err := server.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

type reportBuilder interface {
	Build(ctx context.Context, req report.Request) (report.Report, error)
}

type channelLister interface {
	ListActiveChannels(ctx context.Context) ([]domain.Channel, error)
}

type apiRoutes struct {
	reports  reportBuilder
	channels channelLister
	loc      *time.Location
	now      func() time.Time
	log      zerolog.Logger
}

func (a *apiRoutes) mount(r chi.Router) {
	r.Get("/api/v1/report", a.getReport)
	r.Get("/api/v1/channels", a.listChannels)
}

type windowResponse struct {
	Period string    `json:"period"`
	Label  string    `json:"label"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

type reportResponse struct {
	Window windowResponse `json:"window"`
	report.Report
	ChannelIDs []int64 `json:"channel_ids"`
}

type channelResponse struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Username      string     `json:"username,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// getReport: GET /api/v1/report?period=week&offset=0&channel=1,2
func (a *apiRoutes) getReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := report.ParsePeriod(q.Get("period"))
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset > 0 {
			httpinfra.WriteError(w, http.StatusBadRequest, errors.New("offset должен быть целым числом не больше 0"))
			return
		}
	}
	channelIDs, err := parseIDs(q.Get("channel"))
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}

	window, err := report.NewWindow(period, a.now(), a.loc, offset)
	if err != nil {
		httpinfra.WriteError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := a.reports.Build(r.Context(), report.Request{Window: window, ChannelIDs: channelIDs})
	if err != nil {
		a.log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Msg("api: не удалось построить отчёт")
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("не удалось построить отчёт"))
		return
	}

	ids := make([]int64, 0, len(rep.Channels))
	for _, ch := range rep.Channels {
		ids = append(ids, ch.ID)
	}
	httpinfra.WriteJSON(w, http.StatusOK, reportResponse{
		Window: windowResponse{
			Period: string(window.Period),
			Label:  window.Label(),
			Start:  window.Start,
			End:    window.End,
		},
		Report:     rep,
		ChannelIDs: ids,
	})
}

func (a *apiRoutes) listChannels(w http.ResponseWriter, r *http.Request) {
	list, err := a.channels.ListActiveChannels(r.Context())
	if err != nil {
		a.log.Error().Err(err).Str("request_id", httpinfra.RequestID(r)).Msg("api: не удалось получить каналы")
		httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("не удалось получить каналы"))
		return
	}
	out := make([]channelResponse, 0, len(list))
	for _, ch := range list {
		out = append(out, channelResponse{
			ID:            ch.ID,
			Title:         ch.DisplayName(),
			Username:      ch.Username,
			LastSuccessAt: ch.LastSuccessAt,
			LastError:     ch.LastError,
		})
	}
	httpinfra.WriteJSON(w, http.StatusOK, out)
}

func parseIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.New("channel: ожидается список идентификаторов через запятую")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
