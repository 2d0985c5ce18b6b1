package report

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

const unavailable = "н/д"

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

// Ratio — производный показатель. OK == false означает «недоступно»: знаменатель нулевой
// или исходных данных нет.
type Ratio struct {
	Value decimal.Decimal
	OK    bool
}

// String возвращает значение с двумя знаками или «н/д».
func (r Ratio) String() string {
	if !r.OK {
		return unavailable
	}
	return r.Value.StringFixed(2)
}

// MarshalJSON кодирует недоступный показатель как null.
func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.OK {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value.Round(4).String())
}

func divide(num, den decimal.Decimal) Ratio {
	if den.Sign() <= 0 {
		return Ratio{}
	}
	return Ratio{Value: num.Div(den), OK: true}
}

// major переводит минимальные единицы в основные без потери точности.
func major(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Ratios собирает производные показатели.
type Ratios struct {
	MarginPct      Ratio `json:"margin_pct"`
	CPS            Ratio `json:"cps"`
	IncomePerPost  Ratio `json:"income_per_post"`
	ExpensePerPost Ratio `json:"expense_per_post"`
	RPM            Ratio `json:"rpm"`
	CPM            Ratio `json:"cpm"`
	ARPU           Ratio `json:"arpu"`
	ROMI           Ratio `json:"romi"`
}

// ratioInputs содержит исходные величины; суммы в минимальных единицах.
type ratioInputs struct {
	Income         int64
	Expense        int64
	Profit         int64
	AdSpend        int64
	NetNew         int64
	Posts          int64
	Views          int64
	AvgSubscribers Ratio
}

func computeRatios(in ratioInputs) Ratios {
	var r Ratios
	income := major(in.Income)
	expense := major(in.Expense)
	if in.Income > 0 {
		r.MarginPct = divide(major(in.Profit).Mul(hundred), income)
	}
	if in.NetNew > 0 && in.AdSpend > 0 {
		r.CPS = divide(major(in.AdSpend), decimal.NewFromInt(in.NetNew))
	}
	if in.Posts > 0 {
		posts := decimal.NewFromInt(in.Posts)
		r.IncomePerPost = divide(income, posts)
		r.ExpensePerPost = divide(expense, posts)
	}
	if in.Views > 0 {
		perMille := decimal.NewFromInt(in.Views).Div(thousand)
		r.RPM = divide(income, perMille)
		r.CPM = divide(expense, perMille)
	}
	if in.AvgSubscribers.OK {
		r.ARPU = divide(income, in.AvgSubscribers.Value)
	}
	if in.AdSpend > 0 {
		r.ROMI = divide(income, major(in.AdSpend))
	}
	return r
}
