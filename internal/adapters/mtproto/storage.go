package mtproto

import (
	"context"

	"github.com/gotd/td/session"
)

// SessionRepo — хранилище сериализованных сессий.
type SessionRepo interface {
	LoadMTProtoSession(ctx context.Context, name string) ([]byte, error)
	StoreMTProtoSession(ctx context.Context, name string, data []byte) error
}

// DBSession хранит сессию gotd в базе под заданным именем.
type DBSession struct {
	repo SessionRepo
	name string
}

var _ session.Storage = (*DBSession)(nil)

// NewDBSession создаёт хранилище сессии.
func NewDBSession(repo SessionRepo, name string) *DBSession {
	if name == "" {
		name = "default"
	}
	return &DBSession{repo: repo, name: name}
}

// LoadSession возвращает session.ErrNotFound, если сессия ещё не импортирована.
func (s *DBSession) LoadSession(ctx context.Context) ([]byte, error) {
	return s.repo.LoadMTProtoSession(ctx, s.name)
}

// StoreSession сохраняет обновлённую сессию.
func (s *DBSession) StoreSession(ctx context.Context, data []byte) error {
	return s.repo.StoreMTProtoSession(ctx, s.name, data)
}
