package domain

// Коды категорий, на которые опирается логика отчётов и сценария ввода.
const (
	CategoryCustom         = "custom"
	CategoryAdPurchase     = "ad_purchase"
	CategoryPersonalInvest = "personal_invest"
)

// DefaultCategories задаёт начальный справочник статей.
var DefaultCategories = []Category{
	{Code: "ad_revenue", Name: "Выручка с прямой рекламы", IsActive: true},
	{Code: "ad_revenue_rsy", Name: "Выручка с РСЯ", IsActive: true},
	{Code: "ad_revenue_bk", Name: "Выручка с БК", IsActive: true},
	{Code: "admins_pay", Name: "Оплата работы админов", IsActive: true},
	{Code: CategoryAdPurchase, Name: "Закупка рекламы", IsActive: true},
	{Code: CategoryPersonalInvest, Name: "Личные вложения", IsActive: true},
	{Code: "services_costs", Name: "Затраты на сервисы", IsActive: true},
	{Code: "it_infra_costs", Name: "Затраты на IT инфру", IsActive: true},
	{Code: CategoryCustom, Name: "Ручной ввод", IsActive: true},
}

// CategoryGroups описывает, какие коды категорий допустимы для каждого типа операции
// и какие считаются рекламными расходами. Наборы приходят из конфигурации.
type CategoryGroups struct {
	Income     []string
	Expense    []string
	Investment []string
	AdSpend    []string
}

// DefaultCategoryGroups возвращает группировку, соответствующую DefaultCategories.
func DefaultCategoryGroups() CategoryGroups {
	return CategoryGroups{
		Income:     []string{"ad_revenue", "ad_revenue_rsy", "ad_revenue_bk", CategoryCustom},
		Expense:    []string{"admins_pay", CategoryAdPurchase, "services_costs", "it_infra_costs", CategoryCustom},
		Investment: []string{CategoryPersonalInvest, CategoryCustom},
		AdSpend:    []string{CategoryAdPurchase},
	}
}

// Allows проверяет, доступна ли категория для типа операции.
func (g CategoryGroups) Allows(t OperationType, code string) bool {
	var codes []string
	switch t {
	case OperationIncome:
		codes = g.Income
	case OperationExpense:
		codes = g.Expense
	case OperationInvestment:
		codes = g.Investment
	}
	return contains(codes, code)
}

// IsAdSpend сообщает, относится ли категория к закупке рекламы.
func (g CategoryGroups) IsAdSpend(code string) bool {
	return contains(g.AdSpend, code)
}

// All возвращает объединение всех кодов без повторов.
func (g CategoryGroups) All() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, set := range [][]string{g.Income, g.Expense, g.Investment, g.AdSpend} {
		for _, code := range set {
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			out = append(out, code)
		}
	}
	return out
}

// Filter возвращает категории, доступные для типа, в исходном порядке.
func (g CategoryGroups) Filter(t OperationType, categories []Category) []Category {
	out := make([]Category, 0, len(categories))
	for _, c := range categories {
		if c.IsActive && g.Allows(t, c.Code) {
			out = append(out, c)
		}
	}
	return out
}

func contains(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
