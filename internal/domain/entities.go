package domain

import (
	"strings"
	"time"
)

// User описывает оператора бота.
type User struct {
	ID               int64
	TGUserID         int64
	FirstName        string
	LastName         string
	Username         string
	NotifyDailyStats bool
	CreatedAt        time.Time
}

// DisplayName возвращает имя для сообщений.
func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return ""
}

// TelegramProfile содержит данные профиля, полученные из Telegram.
type TelegramProfile struct {
	TGUserID  int64
	FirstName string
	LastName  string
	Username  string
}

// Channel описывает управляемый канал.
type Channel struct {
	ID            int64
	TGChatID      int64
	Title         string
	Username      string
	IsActive      bool
	LastSuccessAt *time.Time
	LastError     string
	AddedByUserID *int64
	CreatedAt     time.Time
}

// IsLegacy сообщает, что канал заведён до появления учёта автора регистрации.
func (c Channel) IsLegacy() bool {
	return c.AddedByUserID == nil
}

// DisplayName возвращает название канала для интерфейса.
func (c Channel) DisplayName() string {
	if c.Title != "" {
		return c.Title
	}
	if c.Username != "" {
		return "@" + c.Username
	}
	return "канал " + formatInt(c.TGChatID)
}

// ChannelRegistration описывает событие «канал стал известен».
type ChannelRegistration struct {
	TGChatID int64
	Title    string
	Username string
	AddedBy  int64
}

// Category описывает статью учёта.
type Category struct {
	ID       int64
	Code     string
	Name     string
	IsActive bool
}
