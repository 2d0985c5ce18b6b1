package bot

import (
	"errors"
	"html"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/usecase/ledger"
)

// screen — текст и клавиатура для очередного шага.
type screen struct {
	text   string
	markup *tgbotapi.InlineKeyboardMarkup
}

func withMarkup(text string, markup tgbotapi.InlineKeyboardMarkup) screen {
	return screen{text: text, markup: &markup}
}

// stepScreen строит подсказку для шага сценария.
func stepScreen(step ledger.Step, d ledger.Draft, cat ledger.Catalog, currency string) screen {
	switch step {
	case ledger.StepChoosingType:
		return withMarkup("Выберите тип операции:", typeKeyboard())
	case ledger.StepChoosingCategory:
		return withMarkup("<b>"+d.Type.Title()+"</b>\nВыберите статью:", categoryKeyboard(cat.CategoriesFor(d.Type)))
	case ledger.StepEnteringReason:
		return withMarkup("Опишите операцию одним сообщением:", tgbotapi.NewInlineKeyboardMarkup(navigationRow(true)))
	case ledger.StepChoosingChannels:
		text := "К каким каналам относится операция? Можно выбрать несколько или отметить её как общую."
		if len(cat.Channels) == 0 {
			text = "Активных каналов нет. Отметьте операцию как общую."
		}
		return withMarkup(text, channelsKeyboard(cat.Channels, d))
	case ledger.StepEnteringAmount:
		return withMarkup("Введите сумму, например <code>1500</code> или <code>1 234,50</code>:", tgbotapi.NewInlineKeyboardMarkup(navigationRow(true)))
	case ledger.StepEnteringReceipt:
		return withMarkup("Пришлите ссылку на чек или нажмите «Пропустить»:", skipKeyboard())
	case ledger.StepEnteringComment:
		return withMarkup("Добавьте комментарий или нажмите «Пропустить»:", skipKeyboard())
	case ledger.StepConfirming:
		return withMarkup(html.EscapeString(ledger.Summary(d, cat, currency)), confirmKeyboard())
	}
	return screen{text: helpText}
}

// outcomeScreen описывает результат обработки действия.
func outcomeScreen(out ledger.Outcome, currency string, loc *time.Location) screen {
	switch out.Effect.Kind {
	case ledger.EffectCommit:
		switch {
		case out.Committed != nil:
			return screen{text: "✅ Операция сохранена\n" + html.EscapeString(ledger.DescribeOperation(*out.Committed, out.Catalog, loc))}
		case out.Duplicate != nil:
			return screen{text: "ℹ️ Такая операция уже записана\n" + html.EscapeString(ledger.DescribeOperation(*out.Duplicate, out.Catalog, loc))}
		}
	case ledger.EffectCancelled:
		return screen{text: "Ввод операции отменён."}
	case ledger.EffectNone:
		return screen{text: "Чтобы записать операцию, используйте /add, /in, /out или /invest."}
	case ledger.EffectReprompt:
		next := stepScreen(out.Step, out.Draft, out.Catalog, currency)
		next.text = "⚠️ " + html.EscapeString(problemText(out.Effect.Problem)) + "\n\n" + next.text
		return next
	}
	return stepScreen(out.Step, out.Draft, out.Catalog, currency)
}

func problemText(err error) string {
	if err == nil {
		return "Действие недоступно на этом шаге"
	}
	var parseErr *domain.ParseError
	if errors.As(err, &parseErr) {
		return "Не удалось разобрать сумму: " + parseErr.Reason
	}
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		return validation.Reason
	}
	return err.Error()
}

const helpText = `Учёт финансов каналов.

<b>Операции</b>
/add — новая операция
/in — доход, /out — расход, /invest — личные вложения
/cancel — отменить ввод

<b>Отчёты</b>
/report [day|week|month] [prev] — отчёт за период
/notify on|off — ежедневная статистика в 09:00

<b>Каналы</b>
Перешлите пост из канала, чтобы добавить его.
/channels — список каналов
/collect_now — собрать статистику сейчас
/deactivate_legacy — отключить каналы без автора регистрации`
