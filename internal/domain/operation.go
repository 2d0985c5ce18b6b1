package domain

import (
	"sort"
	"time"
)

// OperationType задаёт вид операции в реестре.
type OperationType int16

const (
	// OperationIncome обозначает доход.
	OperationIncome OperationType = 1
	// OperationExpense обозначает расход.
	OperationExpense OperationType = 2
	// OperationInvestment обозначает личные вложения, они не входят в расходы.
	OperationInvestment OperationType = 3
)

// OperationTypes перечисляет допустимые типы в порядке показа.
var OperationTypes = []OperationType{OperationIncome, OperationExpense, OperationInvestment}

// Valid проверяет, что тип известен.
func (t OperationType) Valid() bool {
	switch t {
	case OperationIncome, OperationExpense, OperationInvestment:
		return true
	}
	return false
}

// Code возвращает программный код типа.
func (t OperationType) Code() string {
	switch t {
	case OperationIncome:
		return "income"
	case OperationExpense:
		return "expense"
	case OperationInvestment:
		return "investment"
	}
	return "unknown"
}

// Title возвращает название типа для оператора.
func (t OperationType) Title() string {
	switch t {
	case OperationIncome:
		return "Доход"
	case OperationExpense:
		return "Расход"
	case OperationInvestment:
		return "Личные вложения"
	}
	return "Неизвестно"
}

// ParseOperationType разбирает код типа.
func ParseOperationType(code string) (OperationType, bool) {
	for _, t := range OperationTypes {
		if t.Code() == code {
			return t, true
		}
	}
	return 0, false
}

// ChannelTarget описывает привязку операции: либо непустой набор каналов, либо «общая».
// Нулевое значение невалидно.
type ChannelTarget struct {
	general bool
	ids     []int64
}

// GeneralTarget возвращает привязку «без канала».
func GeneralTarget() ChannelTarget {
	return ChannelTarget{general: true}
}

// NewChannelTarget строит привязку к каналам. Дубликаты удаляются, порядок нормализуется.
func NewChannelTarget(ids []int64) (ChannelTarget, error) {
	normalized := NormalizeIDs(ids)
	if len(normalized) == 0 {
		return ChannelTarget{}, &ValidationError{Field: "channels", Reason: "выберите хотя бы один канал или «Общая»"}
	}
	return ChannelTarget{ids: normalized}, nil
}

// IsGeneral сообщает, что операция не привязана к каналам.
func (t ChannelTarget) IsGeneral() bool {
	return t.general
}

// Valid проверяет, что привязка построена конструктором.
func (t ChannelTarget) Valid() bool {
	return t.general != (len(t.ids) > 0)
}

// ChannelIDs возвращает копию отсортированного набора каналов.
func (t ChannelTarget) ChannelIDs() []int64 {
	if len(t.ids) == 0 {
		return nil
	}
	out := make([]int64, len(t.ids))
	copy(out, t.ids)
	return out
}

// Intersects сообщает, есть ли среди каналов привязки хотя бы один из набора.
func (t ChannelTarget) Intersects(set map[int64]struct{}) bool {
	for _, id := range t.ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// Operation — запись реестра. После сохранения не изменяется.
type Operation struct {
	ID              int64
	CreatedAt       time.Time
	Type            OperationType
	CategoryID      int64
	CategoryCode    string
	CategoryName    string
	AmountMinor     int64
	Currency        string
	Reason          string
	ReceiptURL      string
	Comment         string
	CreatedByUserID int64
	Target          ChannelTarget
	Fingerprint     string
}

// OperationFilter ограничивает выборку операций полуинтервалом [From, To).
type OperationFilter struct {
	From           time.Time
	To             time.Time
	ChannelIDs     []int64
	IncludeGeneral bool
}

// NormalizeIDs сортирует идентификаторы и удаляет повторы.
func NormalizeIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
