// Package session は端末上で唯一のログインセッションの保存・読み込み・削除を提供する。
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/gofinances/internal/model"
	"github.com/hitoshi/gofinances/internal/repository"
)

// RecordKey はセッションレコードを保存する固定キー。
// 1端末1ユーザーを前提とし、レコードは常に1件以下である。
const RecordKey = "@gofinances:user"

// Store はセッションレコードの永続化を行う。
type Store struct {
	repo repository.KeyValueRepository
}

// NewStore はStoreを生成する。
func NewStore(repo repository.KeyValueRepository) *Store {
	return &Store{repo: repo}
}

// Save はユーザーをセッションレコードとして上書き保存する。
func (s *Store) Save(ctx context.Context, user model.User) error {
	if user.ID == "" {
		return model.NewStorageError(fmt.Errorf("refusing to save user without id"))
	}

	data, err := json.Marshal(user)
	if err != nil {
		return model.NewStorageError(fmt.Errorf("failed to encode session record: %w", err))
	}

	if err := s.repo.Put(ctx, RecordKey, data); err != nil {
		return model.NewStorageError(fmt.Errorf("failed to save session record: %w", err))
	}
	return nil
}

// Load は保存済みのユーザーを返す。未保存の場合はnilを返す。
// 壊れたレコードは読み飛ばさずStorageErrorとして扱う。
func (s *Store) Load(ctx context.Context) (*model.User, error) {
	data, err := s.repo.Get(ctx, RecordKey)
	if err != nil {
		return nil, model.NewStorageError(fmt.Errorf("failed to load session record: %w", err))
	}
	if data == nil {
		return nil, nil
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, model.NewStorageError(fmt.Errorf("failed to decode session record: %w", err))
	}
	if user.ID == "" {
		return nil, model.NewStorageError(fmt.Errorf("session record has empty id"))
	}

	return &user, nil
}

// Clear はセッションレコードを削除する。
func (s *Store) Clear(ctx context.Context) error {
	if err := s.repo.Delete(ctx, RecordKey); err != nil {
		return model.NewStorageError(fmt.Errorf("failed to clear session record: %w", err))
	}
	return nil
}
