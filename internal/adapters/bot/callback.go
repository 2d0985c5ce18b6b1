package bot

import (
	"fmt"
	"strconv"
	"strings"

	"tg-finance-bot/internal/domain"
	"tg-finance-bot/internal/usecase/ledger"
)

// Префиксы данных inline-кнопок.
const (
	prefixOperation = "op"
	prefixChannel   = "ch"
	prefixReport    = "rep"
)

func opData(action string, args ...string) string {
	return strings.Join(append([]string{prefixOperation, action}, args...), ":")
}

// parseOperationCallback переводит данные кнопки сценария ввода в действие оператора.
func parseOperationCallback(data string) (ledger.Input, bool) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 || parts[0] != prefixOperation {
		return ledger.Input{}, false
	}
	switch parts[1] {
	case "type":
		if len(parts) != 3 {
			return ledger.Input{}, false
		}
		t, ok := domain.ParseOperationType(parts[2])
		if !ok {
			return ledger.Input{}, false
		}
		return ledger.Input{Kind: ledger.InputSelectType, Type: t}, true
	case "cat", "ch":
		if len(parts) != 3 {
			return ledger.Input{}, false
		}
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return ledger.Input{}, false
		}
		kind := ledger.InputSelectCategory
		if parts[1] == "ch" {
			kind = ledger.InputToggleChannel
		}
		return ledger.Input{Kind: kind, ID: id}, true
	case "general":
		return ledger.Input{Kind: ledger.InputGeneral}, true
	case "done":
		return ledger.Input{Kind: ledger.InputDone}, true
	case "skip":
		return ledger.Input{Kind: ledger.InputSkip}, true
	case "back":
		return ledger.Input{Kind: ledger.InputBack}, true
	case "confirm":
		return ledger.Input{Kind: ledger.InputConfirm}, true
	case "cancel":
		return ledger.Input{Kind: ledger.InputCancel}, true
	}
	return ledger.Input{}, false
}

type channelAction struct {
	Action    string
	ChannelID int64
}

func channelData(action string, id int64) string {
	return fmt.Sprintf("%s:%s:%d", prefixChannel, action, id)
}

func parseChannelCallback(data string) (channelAction, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != prefixChannel {
		return channelAction{}, false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return channelAction{}, false
	}
	switch parts[1] {
	case "toggle", "del":
		return channelAction{Action: parts[1], ChannelID: id}, true
	}
	return channelAction{}, false
}

func reportData(period string, offset int) string {
	return fmt.Sprintf("%s:%s:%d", prefixReport, period, offset)
}

func parseReportCallback(data string) (string, int, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != prefixReport {
		return "", 0, false
	}
	offset, err := strconv.Atoi(parts[2])
	if err != nil || offset > 0 {
		return "", 0, false
	}
	return parts[1], offset, true
}
