package ledger

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"tg-finance-bot/internal/domain"
)

var amountPattern = regexp.MustCompile(`^(\d+)(?:[.,](\d{1,2}))?$`)

// ParseAmount переводит введённую сумму в минимальные единицы (копейки).
// Пробелы считаются разделителями разрядов, дробная часть отделяется точкой или запятой.
// Одна цифра после разделителя означает десятые: «1200.5» → 120050.
func ParseAmount(input string) (int64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, input)
	if cleaned == "" {
		return 0, &domain.ParseError{Input: input, Reason: "пустая строка"}
	}
	m := amountPattern.FindStringSubmatch(cleaned)
	if m == nil {
		return 0, &domain.ParseError{Input: input, Reason: "ожидается число вида 1200 или 1200.50"}
	}

	whole, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &domain.ParseError{Input: input, Reason: "слишком большое число"}
	}
	var frac int64
	if m[2] != "" {
		frac, _ = strconv.ParseInt(m[2], 10, 64)
		if len(m[2]) == 1 {
			frac *= 10
		}
	}
	if whole > (math.MaxInt64-frac)/100 {
		return 0, &domain.ParseError{Input: input, Reason: "слишком большое число"}
	}
	return whole*100 + frac, nil
}
