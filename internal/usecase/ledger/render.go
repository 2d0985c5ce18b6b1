package ledger

import (
	"fmt"
	"strings"
	"time"

	"tg-finance-bot/internal/domain"
)

// Summary формирует текст черновика для подтверждения.
func Summary(d Draft, cat Catalog, currency string) string {
	lines := []string{
		"Проверьте операцию:",
		fmt.Sprintf("Тип: %s", d.Type.Title()),
		fmt.Sprintf("Категория: %s", categoryTitle(d.CategoryName, d.CategoryCode)),
	}
	if d.Reason != "" {
		lines = append(lines, fmt.Sprintf("Пояснение: %s", d.Reason))
	}
	lines = append(lines, fmt.Sprintf("Каналы: %s", channelTitles(d.General, d.ChannelIDs, cat)))
	lines = append(lines, fmt.Sprintf("Сумма: %s", domain.FormatMoney(d.AmountMinor, currency)))
	if d.ReceiptURL != "" {
		lines = append(lines, fmt.Sprintf("Чек: %s", d.ReceiptURL))
	}
	if d.Comment != "" {
		lines = append(lines, fmt.Sprintf("Комментарий: %s", d.Comment))
	}
	return strings.Join(lines, "\n")
}

// DescribeOperation формирует краткое описание сохранённой операции. Время выводится в поясе loc.
func DescribeOperation(op domain.Operation, cat Catalog, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("#%d от %s: %s, %s, %s, %s",
		op.ID,
		op.CreatedAt.In(loc).Format("02.01.2006 15:04"),
		op.Type.Title(),
		categoryTitle(op.CategoryName, op.CategoryCode),
		domain.FormatMoney(op.AmountMinor, op.Currency),
		channelTitles(op.Target.IsGeneral(), op.Target.ChannelIDs(), cat),
	)
}

func categoryTitle(name, code string) string {
	if name != "" {
		return name
	}
	return code
}

func channelTitles(general bool, ids []int64, cat Catalog) string {
	if general {
		return "общая"
	}
	if len(ids) == 0 {
		return "не выбраны"
	}
	titles := make([]string, 0, len(ids))
	for _, id := range ids {
		if ch, ok := cat.Channel(id); ok {
			titles = append(titles, ch.DisplayName())
			continue
		}
		titles = append(titles, fmt.Sprintf("#%d", id))
	}
	return strings.Join(titles, ", ")
}
