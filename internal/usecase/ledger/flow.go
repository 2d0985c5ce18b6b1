package ledger

import (
	"errors"
	"strings"

	"tg-finance-bot/internal/domain"
)

// Step обозначает шаг сценария ввода операции.
type Step string

const (
	StepIdle             Step = "idle"
	StepChoosingType     Step = "choosing_type"
	StepChoosingCategory Step = "choosing_category"
	StepEnteringReason   Step = "entering_reason"
	StepChoosingChannels Step = "choosing_channels"
	StepEnteringAmount   Step = "entering_amount"
	StepEnteringReceipt  Step = "entering_receipt"
	StepEnteringComment  Step = "entering_comment"
	StepConfirming       Step = "confirming"
)

// Draft накапливает данные операции между шагами.
type Draft struct {
	Type         domain.OperationType `json:"type,omitempty"`
	CategoryID   int64                `json:"category_id,omitempty"`
	CategoryCode string               `json:"category_code,omitempty"`
	CategoryName string               `json:"category_name,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	ChannelIDs   []int64              `json:"channel_ids,omitempty"`
	General      bool                 `json:"general,omitempty"`
	AmountMinor  int64                `json:"amount_minor,omitempty"`
	ReceiptURL   string               `json:"receipt_url,omitempty"`
	Comment      string               `json:"comment,omitempty"`
}

// Target строит привязку операции к каналам.
func (d Draft) Target() (domain.ChannelTarget, error) {
	if d.General {
		return domain.GeneralTarget(), nil
	}
	return domain.NewChannelTarget(d.ChannelIDs)
}

// HasChannel сообщает, выбран ли канал.
func (d Draft) HasChannel(id int64) bool {
	for _, ch := range d.ChannelIDs {
		if ch == id {
			return true
		}
	}
	return false
}

func (d Draft) validate() error {
	if !d.Type.Valid() {
		return &domain.ValidationError{Field: "type", Reason: "не выбран тип операции"}
	}
	if d.CategoryID == 0 {
		return &domain.ValidationError{Field: "category", Reason: "не выбрана категория"}
	}
	if d.CategoryCode == domain.CategoryCustom && strings.TrimSpace(d.Reason) == "" {
		return &domain.ValidationError{Field: "reason", Reason: "для ручного ввода нужно пояснение"}
	}
	if d.AmountMinor <= 0 {
		return &domain.ValidationError{Field: "amount", Reason: "сумма должна быть больше нуля"}
	}
	if _, err := d.Target(); err != nil {
		return err
	}
	return nil
}

// InputKind задаёт вид действия оператора.
type InputKind int

const (
	InputStart InputKind = iota + 1
	InputSelectType
	InputSelectCategory
	InputToggleChannel
	InputGeneral
	InputDone
	InputText
	InputSkip
	InputBack
	InputConfirm
	InputCancel
)

// Input описывает действие оператора. Type используется для InputStart и InputSelectType,
// ID нужен для выбора категории и канала, Text для свободного ввода.
type Input struct {
	Kind InputKind
	Type domain.OperationType
	ID   int64
	Text string
}

// EffectKind описывает, что должен сделать вызывающий после перехода.
type EffectKind int

const (
	// EffectNone: диалог не начат, ввод проигнорирован.
	EffectNone EffectKind = iota
	// EffectPrompt: показать подсказку нового шага.
	EffectPrompt
	// EffectReprompt: повторить подсказку текущего шага, Problem объясняет причину.
	EffectReprompt
	// EffectCommit: записать черновик в реестр.
	EffectCommit
	// EffectCancelled: диалог отменён.
	EffectCancelled
)

// Effect описывает результат перехода.
type Effect struct {
	Kind    EffectKind
	Problem error
	Draft   Draft
}

// Catalog содержит справочники, по которым проверяется ввод.
type Catalog struct {
	Categories []domain.Category
	Channels   []domain.Channel
	Groups     domain.CategoryGroups
}

// CategoriesFor возвращает категории, доступные для типа.
func (c Catalog) CategoriesFor(t domain.OperationType) []domain.Category {
	return c.Groups.Filter(t, c.Categories)
}

// Category ищет категорию по идентификатору.
func (c Catalog) Category(id int64) (domain.Category, bool) {
	for _, cat := range c.Categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return domain.Category{}, false
}

// Channel ищет активный канал по идентификатору.
func (c Catalog) Channel(id int64) (domain.Channel, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return domain.Channel{}, false
}

var errUnexpectedInput = errors.New("действие недоступно на этом шаге")

// Transition вычисляет следующий шаг. Функция чистая: побочные эффекты выполняет вызывающий по Effect.
func Transition(step Step, d Draft, in Input, cat Catalog) (Step, Draft, Effect) {
	switch in.Kind {
	case InputCancel:
		return StepIdle, Draft{}, Effect{Kind: EffectCancelled}
	case InputStart:
		if in.Type.Valid() {
			return StepChoosingCategory, Draft{Type: in.Type}, Effect{Kind: EffectPrompt}
		}
		return StepChoosingType, Draft{}, Effect{Kind: EffectPrompt}
	case InputBack:
		return back(step, d)
	}

	switch step {
	case StepChoosingType:
		if in.Kind != InputSelectType {
			return reprompt(step, d, errUnexpectedInput)
		}
		if !in.Type.Valid() {
			return reprompt(step, d, &domain.ValidationError{Field: "type", Reason: "неизвестный тип операции"})
		}
		return StepChoosingCategory, Draft{Type: in.Type}, Effect{Kind: EffectPrompt}

	case StepChoosingCategory:
		if in.Kind != InputSelectCategory {
			return reprompt(step, d, errUnexpectedInput)
		}
		category, ok := cat.Category(in.ID)
		if !ok || !category.IsActive || !cat.Groups.Allows(d.Type, category.Code) {
			return reprompt(step, d, &domain.ValidationError{Field: "category", Reason: "категория недоступна для этого типа"})
		}
		d.CategoryID = category.ID
		d.CategoryCode = category.Code
		d.CategoryName = category.Name
		d.Reason = ""
		if category.Code == domain.CategoryCustom {
			return StepEnteringReason, d, Effect{Kind: EffectPrompt}
		}
		return StepChoosingChannels, d, Effect{Kind: EffectPrompt}

	case StepEnteringReason:
		if in.Kind != InputText {
			return reprompt(step, d, errUnexpectedInput)
		}
		reason := strings.TrimSpace(in.Text)
		if reason == "" {
			return reprompt(step, d, &domain.ValidationError{Field: "reason", Reason: "пояснение обязательно"})
		}
		d.Reason = reason
		return StepChoosingChannels, d, Effect{Kind: EffectPrompt}

	case StepChoosingChannels:
		switch in.Kind {
		case InputToggleChannel:
			if _, ok := cat.Channel(in.ID); !ok {
				return reprompt(step, d, &domain.ValidationError{Field: "channels", Reason: "канал не найден"})
			}
			d.General = false
			d.ChannelIDs = toggle(d.ChannelIDs, in.ID)
			return step, d, Effect{Kind: EffectPrompt}
		case InputGeneral:
			d.ChannelIDs = nil
			d.General = true
			return step, d, Effect{Kind: EffectPrompt}
		case InputDone:
			if _, err := d.Target(); err != nil {
				return reprompt(step, d, err)
			}
			return StepEnteringAmount, d, Effect{Kind: EffectPrompt}
		}
		return reprompt(step, d, errUnexpectedInput)

	case StepEnteringAmount:
		if in.Kind != InputText {
			return reprompt(step, d, errUnexpectedInput)
		}
		amount, err := ParseAmount(in.Text)
		if err != nil {
			return reprompt(step, d, err)
		}
		if amount == 0 {
			return reprompt(step, d, &domain.ValidationError{Field: "amount", Reason: "сумма должна быть больше нуля"})
		}
		d.AmountMinor = amount
		return StepEnteringReceipt, d, Effect{Kind: EffectPrompt}

	case StepEnteringReceipt:
		switch in.Kind {
		case InputText:
			d.ReceiptURL = strings.TrimSpace(in.Text)
			return StepEnteringComment, d, Effect{Kind: EffectPrompt}
		case InputSkip:
			d.ReceiptURL = ""
			return StepEnteringComment, d, Effect{Kind: EffectPrompt}
		}
		return reprompt(step, d, errUnexpectedInput)

	case StepEnteringComment:
		switch in.Kind {
		case InputText:
			d.Comment = strings.TrimSpace(in.Text)
			return StepConfirming, d, Effect{Kind: EffectPrompt}
		case InputSkip:
			d.Comment = ""
			return StepConfirming, d, Effect{Kind: EffectPrompt}
		}
		return reprompt(step, d, errUnexpectedInput)

	case StepConfirming:
		if in.Kind != InputConfirm {
			return reprompt(step, d, errUnexpectedInput)
		}
		if err := d.validate(); err != nil {
			return reprompt(step, d, err)
		}
		return StepIdle, Draft{}, Effect{Kind: EffectCommit, Draft: d}
	}

	return StepIdle, Draft{}, Effect{Kind: EffectNone}
}

func back(step Step, d Draft) (Step, Draft, Effect) {
	prompt := Effect{Kind: EffectPrompt}
	switch step {
	case StepChoosingType:
		return step, d, prompt
	case StepChoosingCategory:
		return StepChoosingType, Draft{}, prompt
	case StepEnteringReason:
		d.CategoryID, d.CategoryCode, d.CategoryName = 0, "", ""
		return StepChoosingCategory, d, prompt
	case StepChoosingChannels:
		if d.CategoryCode == domain.CategoryCustom {
			return StepEnteringReason, d, prompt
		}
		d.CategoryID, d.CategoryCode, d.CategoryName = 0, "", ""
		return StepChoosingCategory, d, prompt
	case StepEnteringAmount:
		return StepChoosingChannels, d, prompt
	case StepEnteringReceipt:
		return StepEnteringAmount, d, prompt
	case StepEnteringComment:
		return StepEnteringReceipt, d, prompt
	case StepConfirming:
		return StepEnteringComment, d, prompt
	}
	return StepIdle, Draft{}, Effect{Kind: EffectNone}
}

func reprompt(step Step, d Draft, problem error) (Step, Draft, Effect) {
	return step, d, Effect{Kind: EffectReprompt, Problem: problem}
}

func toggle(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids)+1)
	found := false
	for _, existing := range ids {
		if existing == id {
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
