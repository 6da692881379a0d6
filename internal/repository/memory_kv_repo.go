package repository

import (
	"context"
	"sync"
)

// MemoryKVRepo はプロセス内メモリを使用したキーバリューリポジトリ。
// プロセス終了時に内容は失われる。テストと一時利用向け。
type MemoryKVRepo struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryKVRepo はMemoryKVRepoを生成する。
func NewMemoryKVRepo() *MemoryKVRepo {
	return &MemoryKVRepo{entries: make(map[string][]byte)}
}

// Get は指定キーの値のコピーを返す。見つからない場合はnilを返す。
func (r *MemoryKVRepo) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	value, ok := r.entries[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

// Put は指定キーに値のコピーを保存する。
func (r *MemoryKVRepo) Put(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[key] = append([]byte(nil), value...)
	return nil
}

// Delete は指定キーの値を削除する。
func (r *MemoryKVRepo) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, key)
	return nil
}

// compile-time interface check
var _ KeyValueRepository = (*MemoryKVRepo)(nil)
