package report

import (
	"fmt"
	"html"
	"strings"

	"tg-finance-bot/internal/domain"
)

var periodTitles = map[Period]string{
	PeriodDay:   "день",
	PeriodWeek:  "неделю",
	PeriodMonth: "месяц",
}

// FormatReport формирует HTML-текст отчёта для отправки в Telegram.
func FormatReport(r Report) string {
	money := func(v int64) string { return domain.FormatMoney(v, r.Currency) }
	var sections []string

	sections = append(sections, fmt.Sprintf("📊 <b>Отчёт за %s</b>\n%s", periodTitles[r.Window.Period], r.Window.Label()))

	var channelNames []string
	for _, ch := range r.Channels {
		channelNames = append(channelNames, html.EscapeString(ch.DisplayName()))
	}
	if len(channelNames) > 0 {
		sections = append(sections, "📚 Каналы: "+strings.Join(channelNames, ", "))
	} else {
		sections = append(sections, "📚 Активных каналов нет, показаны только общие операции")
	}

	sections = append(sections, strings.Join([]string{
		"💰 <b>Финансы</b>",
		fmt.Sprintf("Доходы: %s", money(r.Total.Income)),
		fmt.Sprintf("Расходы: %s", money(r.Total.Expense)),
		fmt.Sprintf("  в т.ч. закупка рекламы: %s", money(r.AdSpend)),
		fmt.Sprintf("Прибыль: %s", money(r.Profit)),
		fmt.Sprintf("Маржа: %s", percent(r.Ratios.MarginPct)),
		fmt.Sprintf("Личные вложения: %s", money(r.Total.Investment)),
		fmt.Sprintf("Денежный поток: %s", money(r.Cashflow)),
		fmt.Sprintf("Операций: %d (общих: доход %s, расход %s)", r.Operations, money(r.General.Income), money(r.General.Expense)),
	}, "\n"))

	sections = append(sections, strings.Join([]string{
		"👥 <b>Аудитория</b>",
		fmt.Sprintf("Вступили: %d, вышли: %d, прирост: %d", r.Growth.Joins, r.Growth.Leaves, r.Growth.NetNew),
		fmt.Sprintf("Средняя аудитория: %s", r.Growth.AvgSubscribers),
		fmt.Sprintf("Постов: %d, просмотров: %d", r.Engagement.Posts, r.Engagement.Views),
	}, "\n"))

	sections = append(sections, strings.Join([]string{
		"📈 <b>Показатели</b>",
		fmt.Sprintf("CPS: %s", r.Ratios.CPS),
		fmt.Sprintf("Доход на пост: %s", r.Ratios.IncomePerPost),
		fmt.Sprintf("Расход на пост: %s", r.Ratios.ExpensePerPost),
		fmt.Sprintf("RPM: %s", r.Ratios.RPM),
		fmt.Sprintf("CPM: %s", r.Ratios.CPM),
		fmt.Sprintf("ARPU: %s", r.Ratios.ARPU),
		fmt.Sprintf("ROMI: %s", r.Ratios.ROMI),
	}, "\n"))

	return strings.Join(sections, "\n\n")
}

func percent(r Ratio) string {
	if !r.OK {
		return r.String()
	}
	return r.String() + "%"
}
