package report

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/infra/metrics"
)

// Source отдаёт данные реестра и снимков для агрегации.
type Source interface {
	domain.ReportRepo
	ListActiveChannels(ctx context.Context) ([]domain.Channel, error)
}

// Totals хранит суммы по типам операций в минимальных единицах.
type Totals struct {
	Income     int64 `json:"income"`
	Expense    int64 `json:"expense"`
	Investment int64 `json:"investment"`
}

func (t *Totals) add(op domain.Operation) {
	switch op.Type {
	case domain.OperationIncome:
		t.Income += op.AmountMinor
	case domain.OperationExpense:
		t.Expense += op.AmountMinor
	case domain.OperationInvestment:
		t.Investment += op.AmountMinor
	}
}

func (t Totals) plus(o Totals) Totals {
	return Totals{Income: t.Income + o.Income, Expense: t.Expense + o.Expense, Investment: t.Investment + o.Investment}
}

// Growth описывает динамику аудитории за окно.
type Growth struct {
	Joins          int64 `json:"joins"`
	Leaves         int64 `json:"leaves"`
	NetNew         int64 `json:"net_new"`
	AvgSubscribers Ratio `json:"avg_subscribers"`
}

// Engagement считает посты и просмотры за окно.
type Engagement struct {
	Posts int64 `json:"posts"`
	Views int64 `json:"views"`
}

// Report содержит результат агрегации за окно.
// Прибыль = доходы − расходы; личные вложения в прибыль не входят и учитываются в Cashflow.
type Report struct {
	Window     Window           `json:"-"`
	Channels   []domain.Channel `json:"-"`
	Currency   string           `json:"currency"`
	ByChannels Totals           `json:"by_channels"`
	General    Totals           `json:"general"`
	Total      Totals           `json:"total"`
	Profit     int64            `json:"profit"`
	Cashflow   int64            `json:"cashflow"`
	AdSpend    int64            `json:"ad_spend"`
	Operations int              `json:"operations"`
	Growth     Growth           `json:"growth"`
	Engagement Engagement       `json:"engagement"`
	Ratios     Ratios           `json:"ratios"`
}

// Request задаёт окно и набор каналов. Пустой набор означает все активные каналы.
type Request struct {
	Window     Window
	ChannelIDs []int64
}

// Engine строит отчёты. Сущности не кэшируются между вызовами.
type Engine struct {
	src      Source
	groups   domain.CategoryGroups
	currency string
}

// NewEngine создаёт движок отчётов.
func NewEngine(src Source, groups domain.CategoryGroups, currency string) *Engine {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return &Engine{src: src, groups: groups, currency: currency}
}

// Build агрегирует реестр и снимки за окно.
func (e *Engine) Build(ctx context.Context, req Request) (Report, error) {
	start := time.Now()
	defer func() { metrics.ReportBuildSeconds.Observe(time.Since(start).Seconds()) }()

	channels, err := e.resolveChannels(ctx, req.ChannelIDs)
	if err != nil {
		return Report{}, err
	}
	ids := make([]int64, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}

	rep := Report{Window: req.Window, Channels: channels, Currency: e.currency}

	ops, err := e.src.ListOperations(ctx, domain.OperationFilter{
		From:           req.Window.Start,
		To:             req.Window.End,
		ChannelIDs:     ids,
		IncludeGeneral: true,
	})
	if err != nil {
		return Report{}, fmt.Errorf("выборка операций: %w", err)
	}
	e.aggregateOperations(&rep, ops, ids)

	fromDate, toDate := req.Window.Dates()
	if len(ids) > 0 {
		churn, err := e.src.ListDailyChurn(ctx, ids, fromDate, toDate)
		if err != nil {
			return Report{}, fmt.Errorf("выборка оттока: %w", err)
		}
		rep.Growth = aggregateChurn(churn, ids, fromDate, toDate)

		snapshots, err := e.src.ListDailySnapshots(ctx, ids, fromDate, toDate)
		if err != nil {
			return Report{}, fmt.Errorf("выборка подписчиков: %w", err)
		}
		rep.Growth.AvgSubscribers = averageSubscribers(snapshots, ids, fromDate, toDate)

		posts, err := e.src.ListPostSnapshots(ctx, ids, req.Window.Start, req.Window.End)
		if err != nil {
			return Report{}, fmt.Errorf("выборка постов: %w", err)
		}
		rep.Engagement = aggregatePosts(posts, ids, req.Window)
	}

	rep.Ratios = computeRatios(ratioInputs{
		Income:         rep.Total.Income,
		Expense:        rep.Total.Expense,
		Profit:         rep.Profit,
		AdSpend:        rep.AdSpend,
		NetNew:         rep.Growth.NetNew,
		Posts:          rep.Engagement.Posts,
		Views:          rep.Engagement.Views,
		AvgSubscribers: rep.Growth.AvgSubscribers,
	})
	return rep, nil
}

func (e *Engine) resolveChannels(ctx context.Context, requested []int64) ([]domain.Channel, error) {
	active, err := e.src.ListActiveChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("выборка каналов: %w", err)
	}
	if len(requested) == 0 {
		return active, nil
	}
	wanted := idSet(requested)
	out := make([]domain.Channel, 0, len(requested))
	for _, ch := range active {
		if _, ok := wanted[ch.ID]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

// aggregateOperations суммирует каждую операцию один раз, сколько бы каналов она ни связывала.
func (e *Engine) aggregateOperations(rep *Report, ops []domain.Operation, ids []int64) {
	selected := idSet(ids)
	seen := make(map[int64]struct{}, len(ops))
	for _, op := range ops {
		if _, ok := seen[op.ID]; ok {
			continue
		}
		if !rep.Window.Contains(op.CreatedAt) {
			continue
		}
		switch {
		case op.Target.IsGeneral():
			rep.General.add(op)
		case op.Target.Intersects(selected):
			rep.ByChannels.add(op)
		default:
			continue
		}
		seen[op.ID] = struct{}{}
		rep.Operations++
		if op.Type == domain.OperationExpense && e.groups.IsAdSpend(op.CategoryCode) {
			rep.AdSpend += op.AmountMinor
		}
	}
	rep.Total = rep.ByChannels.plus(rep.General)
	rep.Profit = rep.Total.Income - rep.Total.Expense
	rep.Cashflow = rep.Profit - rep.Total.Investment
}

func aggregateChurn(rows []domain.ChannelDailyChurn, ids []int64, from, to time.Time) Growth {
	selected := idSet(ids)
	var g Growth
	for _, row := range rows {
		if _, ok := selected[row.ChannelID]; !ok || !inDates(row.Date, from, to) {
			continue
		}
		g.Joins += row.Joins
		g.Leaves += row.Leaves
	}
	g.NetNew = g.Joins - g.Leaves
	return g
}

// averageSubscribers усредняет по датам суммарное число подписчиков выбранных каналов.
func averageSubscribers(rows []domain.ChannelDailySnapshot, ids []int64, from, to time.Time) Ratio {
	selected := idSet(ids)
	type key struct {
		channel int64
		date    time.Time
	}
	perChannelDay := make(map[key]int64)
	perDay := make(map[time.Time]int64)
	for _, row := range rows {
		if _, ok := selected[row.ChannelID]; !ok || !inDates(row.Date, from, to) {
			continue
		}
		k := key{channel: row.ChannelID, date: row.Date.UTC()}
		if _, dup := perChannelDay[k]; dup {
			continue
		}
		perChannelDay[k] = row.Subscribers
		perDay[k.date] += row.Subscribers
	}
	if len(perDay) == 0 {
		return Ratio{}
	}
	var total int64
	for _, v := range perDay {
		total += v
	}
	return divide(decimal.NewFromInt(total), decimal.NewFromInt(int64(len(perDay))))
}

// aggregatePosts берёт максимум просмотров по паре (канал, сообщение) среди снимков окна.
func aggregatePosts(rows []domain.PostSnapshot, ids []int64, w Window) Engagement {
	selected := idSet(ids)
	type key struct {
		channel int64
		message int64
	}
	maxViews := make(map[key]int64)
	for _, row := range rows {
		if _, ok := selected[row.ChannelID]; !ok || !w.Contains(row.PostedAt) {
			continue
		}
		k := key{channel: row.ChannelID, message: row.MessageID}
		if current, ok := maxViews[k]; !ok || row.Views > current {
			maxViews[k] = row.Views
		}
	}
	var e Engagement
	e.Posts = int64(len(maxViews))
	for _, v := range maxViews {
		e.Views += v
	}
	return e
}

func inDates(date, from, to time.Time) bool {
	d := date.UTC()
	return !d.Before(from) && d.Before(to)
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
