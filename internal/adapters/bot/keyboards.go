package bot

import (
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/usecase/ledger"
)

const checkMark = "✅ "

func navigationRow(withBack bool) []tgbotapi.InlineKeyboardButton {
	row := make([]tgbotapi.InlineKeyboardButton, 0, 2)
	if withBack {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", opData("back")))
	}
	return append(row, tgbotapi.NewInlineKeyboardButtonData("✖️ Отмена", opData("cancel")))
}

func typeKeyboard() tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(domain.OperationTypes))
	for _, t := range domain.OperationTypes {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(t.Title(), opData("type", t.Code())))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row, navigationRow(false))
}

func categoryKeyboard(categories []domain.Category) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(categories)/2+2)
	var row []tgbotapi.InlineKeyboardButton
	for _, c := range categories {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(c.Name, opData("cat", strconv.FormatInt(c.ID, 10))))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, navigationRow(true))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func channelsKeyboard(channels []domain.Channel, d ledger.Draft) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(channels)+3)
	for _, ch := range channels {
		label := ch.DisplayName()
		if d.HasChannel(ch.ID) {
			label = checkMark + label
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, opData("ch", strconv.FormatInt(ch.ID, 10))),
		))
	}
	general := "🌐 Общая операция"
	if d.General {
		general = checkMark + general
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(general, opData("general"))),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Готово ➡️", opData("done"))),
		navigationRow(true),
	)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func skipKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Пропустить", opData("skip"))),
		navigationRow(true),
	)
}

func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ Сохранить", opData("confirm"))),
		navigationRow(true),
	)
}

func channelAdminKeyboard(channels []domain.Channel) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(channels))
	for _, ch := range channels {
		toggle := "⏸ Пауза"
		if !ch.IsActive {
			toggle = "▶️ Включить"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(toggle+" · "+ch.DisplayName(), channelData("toggle", ch.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить", channelData("del", ch.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func reportKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Вчера", reportData("day", -1)),
			tgbotapi.NewInlineKeyboardButtonData("Неделя", reportData("week", 0)),
			tgbotapi.NewInlineKeyboardButtonData("Месяц", reportData("month", 0)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Прошлая неделя", reportData("week", -1)),
			tgbotapi.NewInlineKeyboardButtonData("Прошлый месяц", reportData("month", -1)),
		),
	)
}
