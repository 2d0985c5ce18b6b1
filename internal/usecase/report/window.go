package report

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period задаёт вид календарного окна отчёта.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// ErrUnknownPeriod возвращается для неизвестного вида окна.
var ErrUnknownPeriod = errors.New("неизвестный период отчёта")

// ParsePeriod разбирает название периода, допускает русские синонимы.
func ParsePeriod(raw string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "week", "неделя":
		return PeriodWeek, nil
	case "month", "месяц":
		return PeriodMonth, nil
	case "day", "день", "yesterday", "вчера":
		return PeriodDay, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, raw)
}

// Window описывает полуинтервал [Start, End) в UTC, построенный по локальному календарю.
type Window struct {
	Period   Period
	Start    time.Time
	End      time.Time
	Location *time.Location
}

// NewWindow строит окно, содержащее now, со сдвигом offset периодов; -1 означает предыдущий.
func NewWindow(period Period, now time.Time, loc *time.Location, offset int) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	var start, end time.Time
	switch period {
	case PeriodDay:
		start = time.Date(local.Year(), local.Month(), local.Day()+offset, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 1)
	case PeriodWeek:
		sinceMonday := (int(local.Weekday()) + 6) % 7
		start = time.Date(local.Year(), local.Month(), local.Day()-sinceMonday+7*offset, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 0, 7)
	case PeriodMonth:
		start = time.Date(local.Year(), local.Month()+time.Month(offset), 1, 0, 0, 0, 0, loc)
		end = start.AddDate(0, 1, 0)
	default:
		return Window{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
	return Window{Period: period, Start: start.UTC(), End: end.UTC(), Location: loc}, nil
}

// Contains проверяет принадлежность момента окну.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Dates возвращает проекцию окна на календарные даты: полуинтервал [from, to)
// в виде полуночей UTC, как даты хранятся в снимках.
func (w Window) Dates() (time.Time, time.Time) {
	return CalendarDate(w.Start, w.loc()), CalendarDate(w.End, w.loc())
}

// Label возвращает подпись окна для отчёта.
func (w Window) Label() string {
	start := w.Start.In(w.loc())
	last := w.End.In(w.loc()).AddDate(0, 0, -1)
	if w.Period == PeriodDay {
		return start.Format("02.01.2006")
	}
	return fmt.Sprintf("%s – %s", start.Format("02.01.2006"), last.Format("02.01.2006"))
}

func (w Window) loc() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

// CalendarDate возвращает календарную дату момента в часовом поясе loc как полночь UTC.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
