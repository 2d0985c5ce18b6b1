package mtproto

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"tg-finance-bot/internal/domain"
)

// growthGraph — JSON графика статистики канала: колонки вида ["x", t1, t2, ...], ["y0", v1, v2, ...].
type growthGraph struct {
	Columns [][]json.RawMessage `json:"columns"`
	Names   map[string]string   `json:"names"`
}

// ParseFollowersGraph разбирает график подписчиков в дневные вступления и выходы.
// Метки x — миллисекунды Unix, даты берутся в UTC.
func ParseFollowersGraph(data []byte) ([]domain.GrowthPoint, error) {
	var g growthGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("разбор графика: %w", err)
	}

	columns := make(map[string][]json.RawMessage, len(g.Columns))
	for _, col := range g.Columns {
		if len(col) == 0 {
			continue
		}
		var name string
		if err := json.Unmarshal(col[0], &name); err != nil {
			return nil, fmt.Errorf("имя колонки графика: %w", err)
		}
		columns[name] = col[1:]
	}

	xs, ok := columns["x"]
	if !ok {
		return nil, fmt.Errorf("в графике нет колонки x")
	}
	joinedKey, leftKey := seriesKeys(g.Names)
	joined, okJoined := columns[joinedKey]
	left, okLeft := columns[leftKey]
	if !okJoined && !okLeft {
		return nil, fmt.Errorf("в графике нет рядов вступлений и выходов")
	}

	byDate := make(map[time.Time]*domain.GrowthPoint, len(xs))
	for i, raw := range xs {
		var ms int64
		if err := json.Unmarshal(raw, &ms); err != nil {
			return nil, fmt.Errorf("метка времени графика: %w", err)
		}
		ts := time.UnixMilli(ms).UTC()
		date := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		point, ok := byDate[date]
		if !ok {
			point = &domain.GrowthPoint{Date: date}
			byDate[date] = point
		}
		point.Joins += valueAt(joined, i)
		point.Leaves += valueAt(left, i)
	}

	points := make([]domain.GrowthPoint, 0, len(byDate))
	for _, p := range byDate {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// seriesKeys находит ключи рядов по подписям, иначе использует y0 и y1.
func seriesKeys(names map[string]string) (joined, left string) {
	joined, left = "y0", "y1"
	for key, title := range names {
		switch strings.ToLower(strings.TrimSpace(title)) {
		case "joined", "подписались", "вступили":
			joined = key
		case "left", "отписались", "вышли":
			left = key
		}
	}
	return joined, left
}

func valueAt(series []json.RawMessage, i int) int64 {
	if i >= len(series) {
		return 0
	}
	var v float64
	if err := json.Unmarshal(series[i], &v); err != nil {
		return 0
	}
	return int64(v)
}
