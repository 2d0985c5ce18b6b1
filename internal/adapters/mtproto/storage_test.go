package mtproto

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/session"
)

type memSessionRepo struct {
	data map[string][]byte
}

func (m *memSessionRepo) LoadMTProtoSession(_ context.Context, name string) ([]byte, error) {
	data, ok := m.data[name]
	if !ok {
		return nil, session.ErrNotFound
	}
	return data, nil
}

func (m *memSessionRepo) StoreMTProtoSession(_ context.Context, name string, data []byte) error {
	m.data[name] = data
	return nil
}

func TestDBSessionRoundTrip(t *testing.T) {
	repo := &memSessionRepo{data: map[string][]byte{}}
	store := NewDBSession(repo, "")

	if _, err := store.LoadSession(context.Background()); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("ожидали session.ErrNotFound, получили %v", err)
	}
	if err := store.StoreSession(context.Background(), []byte(`{"Version":1}`)); err != nil {
		t.Fatalf("сохранение: %v", err)
	}
	if _, ok := repo.data["default"]; !ok {
		t.Fatalf("ожидали сессию под именем default")
	}
	got, err := store.LoadSession(context.Background())
	if err != nil || string(got) != `{"Version":1}` {
		t.Fatalf("неожиданная сессия %q, ошибка %v", got, err)
	}
}
