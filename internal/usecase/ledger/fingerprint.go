package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"tg-finance-bot/internal/domain"
)

// FingerprintBucket задаёт ширину окна, в котором одинаковые подтверждения считаются повтором.
const FingerprintBucket = 3 * time.Minute

// FingerprintInput содержит поля, определяющие логическую операцию.
type FingerprintInput struct {
	UserTGID     int64
	Type         domain.OperationType
	CategoryCode string
	AmountMinor  int64
	ChannelIDs   []int64
	General      bool
	ConfirmedAt  time.Time
}

// Fingerprint возвращает sha256-отпечаток операции в hex.
// Порядок и повторы каналов не влияют на результат.
func Fingerprint(in FingerprintInput) string {
	ids := domain.NormalizeIDs(in.ChannelIDs)
	channels := make([]string, 0, len(ids))
	for _, id := range ids {
		channels = append(channels, strconv.FormatInt(id, 10))
	}
	general := "0"
	if in.General {
		general = "1"
	}
	bucket := in.ConfirmedAt.UTC().Truncate(FingerprintBucket)

	payload := strings.Join([]string{
		strconv.FormatInt(in.UserTGID, 10),
		in.Type.Code(),
		in.CategoryCode,
		strconv.FormatInt(in.AmountMinor, 10),
		strings.Join(channels, ","),
		general,
		bucket.Format(time.RFC3339),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
