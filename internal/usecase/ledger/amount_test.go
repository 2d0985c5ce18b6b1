package ledger

import (
	"errors"
	"testing"

	"tg-finance-bot/internal/domain"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"1200":       120000,
		"1 200":      120000,
		"1200.5":     120050,
		"1 200,50":   120050,
		"0,01":       1,
		" 15 000 ":   1500000,
		"1\u00a0000": 100000,
	}
	for input, expected := range cases {
		got, err := ParseAmount(input)
		if err != nil {
			t.Fatalf("не ожидали ошибку для %q: %v", input, err)
		}
		if got != expected {
			t.Fatalf("для %q ожидали %d, получили %d", input, expected, got)
		}
	}
}

func TestParseAmountInvalid(t *testing.T) {
	inputs := []string{"", "   ", "-1", "abc", "1,200", "12.345", "12.", ".5", "1e3", "92233720368547758.08", "99999999999999999999"}
	for _, input := range inputs {
		_, err := ParseAmount(input)
		if err == nil {
			t.Fatalf("ожидали ошибку для %q", input)
		}
		var parseErr *domain.ParseError
		if !errors.As(err, &parseErr) {
			t.Fatalf("ожидали ParseError для %q, получили %T", input, err)
		}
	}
}

func TestParseAmountUpperBound(t *testing.T) {
	got, err := ParseAmount("92233720368547758.07")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if got != 9223372036854775807 {
		t.Fatalf("неожиданное значение %d", got)
	}
}
