package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"tg-finance-bot/internal/domain"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory хранит диалоги и ключи Once в памяти процесса для запуска без Redis.
// Состояние теряется при перезапуске процесса.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var (
	_ domain.Cache             = (*Memory)(nil)
	_ domain.ConversationStore = (*MemoryConversations)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// Once выполняет fn, если ключ свободен.
func (m *Memory) Once(_ context.Context, key string, ttl time.Duration, fn func() error) error {
	m.mu.Lock()
	if entry, ok := m.entries[key]; ok && !entry.expired(m.now()) {
		m.mu.Unlock()
		return domain.ErrThrottled
	}
	m.entries[key] = memoryEntry{expiresAt: m.deadline(ttl)}
	m.mu.Unlock()

	if err := fn(); err != nil {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(m.now()) {
		delete(m.entries, key)
		return nil, false
	}
	return append([]byte(nil), entry.data...), true
}

func (m *Memory) set(key string, data []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{data: append([]byte(nil), data...), expiresAt: m.deadline(ttl)}
}

func (m *Memory) del(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

// MemoryConversations хранит диалоги в памяти процесса.
type MemoryConversations struct {
	mem *Memory
}

// NewMemoryConversations создаёт хранилище диалогов поверх Memory.
func NewMemoryConversations(mem *Memory) *MemoryConversations {
	if mem == nil {
		mem = NewMemory()
	}
	return &MemoryConversations{mem: mem}
}

func conversationKey(userID int64) string {
	return "conversation:" + strconv.FormatInt(userID, 10)
}

// Load возвращает domain.ErrNotFound, если диалога нет.
func (s *MemoryConversations) Load(_ context.Context, userID int64) ([]byte, error) {
	data, ok := s.mem.get(conversationKey(userID))
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

// Save сохраняет состояние диалога.
func (s *MemoryConversations) Save(_ context.Context, userID int64, data []byte, ttl time.Duration) error {
	s.mem.set(conversationKey(userID), data, ttl)
	return nil
}

// Delete удаляет состояние диалога.
func (s *MemoryConversations) Delete(_ context.Context, userID int64) error {
	s.mem.del(conversationKey(userID))
	return nil
}
