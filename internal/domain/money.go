package domain

import (
	"strconv"
	"strings"
)

// DefaultCurrency используется, если валюта не задана конфигурацией.
const DefaultCurrency = "RUB"

// FormatMoney переводит сумму в минимальных единицах в строку вида «-1 200.50 RUB».
func FormatMoney(minor int64, currency string) string {
	negative := minor < 0
	var abs uint64
	if negative {
		abs = uint64(-(minor + 1)) + 1
	} else {
		abs = uint64(minor)
	}

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	b.WriteString(groupThousands(strconv.FormatUint(abs/100, 10)))
	b.WriteByte('.')
	frac := abs % 100
	if frac < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.FormatUint(frac, 10))
	if currency != "" {
		b.WriteByte(' ')
		b.WriteString(currency)
	}
	return b.String()
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
