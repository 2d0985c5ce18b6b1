package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/usecase/ledger"
)

func TestParseOperationCallback(t *testing.T) {
	cases := []struct {
		data string
		want ledger.Input
		ok   bool
	}{
		{data: opData("type", "expense"), want: ledger.Input{Kind: ledger.InputSelectType, Type: domain.OperationExpense}, ok: true},
		{data: opData("cat", "12"), want: ledger.Input{Kind: ledger.InputSelectCategory, ID: 12}, ok: true},
		{data: opData("ch", "7"), want: ledger.Input{Kind: ledger.InputToggleChannel, ID: 7}, ok: true},
		{data: opData("general"), want: ledger.Input{Kind: ledger.InputGeneral}, ok: true},
		{data: opData("confirm"), want: ledger.Input{Kind: ledger.InputConfirm}, ok: true},
		{data: opData("type", "gift")},
		{data: opData("cat", "x")},
		{data: opData("cat")},
		{data: "ch:toggle:1"},
		{data: ""},
	}
	for _, tc := range cases {
		got, ok := parseOperationCallback(tc.data)
		assert.Equal(t, tc.ok, ok, tc.data)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.data)
		}
	}
}

func TestParseChannelCallback(t *testing.T) {
	action, ok := parseChannelCallback(channelData("del", 5))
	assert.True(t, ok)
	assert.Equal(t, channelAction{Action: "del", ChannelID: 5}, action)

	_, ok = parseChannelCallback("ch:rename:5")
	assert.False(t, ok)
	_, ok = parseChannelCallback("ch:toggle:0")
	assert.False(t, ok)
}

func TestParseReportCallback(t *testing.T) {
	period, offset, ok := parseReportCallback(reportData("week", -1))
	assert.True(t, ok)
	assert.Equal(t, "week", period)
	assert.Equal(t, -1, offset)

	_, _, ok = parseReportCallback("rep:week:1")
	assert.False(t, ok, "будущие периоды недоступны")
}

func TestCallbackDataFitsTelegramLimit(t *testing.T) {
	for _, data := range []string{
		opData("cat", "9223372036854775807"),
		channelData("toggle", 9223372036854775807),
		reportData("month", -1),
	} {
		assert.LessOrEqual(t, len(data), 64, data)
	}
}
