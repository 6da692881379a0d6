// Package identity はIdPの不変識別子から、初回認可時にのみ開示された氏名・メールアドレスを
// 引き当てるための書き込み一回限りのキャッシュを提供する。
//
// Appleは氏名とメールアドレスを識別子ごとの初回認可時にしか返さず、2回目以降は空で返す。
// そのため一度書き込んだエントリは更新も削除もせず、有効期限も設けない。
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hitoshi/gofinances/internal/model"
	"github.com/hitoshi/gofinances/internal/repository"
	"github.com/hitoshi/gofinances/internal/security"
)

// CacheKey は暗号化済みキャッシュを保存する固定キー。
const CacheKey = "goFinancesApple"

// Cache は暗号化して永続化されるidentityキャッシュ。
// キャッシュ全体を1つのJSONマップ（識別子 → Profile）として保存する。
type Cache struct {
	repo   repository.KeyValueRepository
	sealer security.Sealer

	// 読み込み→追加→書き込みの一連の処理を直列化する
	mu sync.Mutex
}

// NewCache はCacheを生成する。
func NewCache(repo repository.KeyValueRepository, sealer security.Sealer) *Cache {
	return &Cache{repo: repo, sealer: sealer}
}

// Get は識別子に対応するProfileを返す。見つからない場合はnilを返す。
func (c *Cache) Get(ctx context.Context, id string) (*model.Profile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	profile, ok := entries[id]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

// PutIfAbsent は識別子のエントリが存在しない場合のみ書き込む。
// 書き込みが行われたかどうかを返す。既存エントリは決して上書きしない。
func (c *Cache) PutIfAbsent(ctx context.Context, id string, profile model.Profile) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load(ctx)
	if err != nil {
		return false, err
	}
	return c.putIfAbsentLocked(ctx, entries, id, profile)
}

// Resolve はAppleサインインで得た識別子から氏名とメールアドレスを解決する。
//  1. キャッシュにあればキャッシュの値を使い、今回IdPが返した値は無視する
//  2. なければIdPが今回返した値を書き込んでそれを使う
//  3. IdPも何も返さなければIdentityResolutionErrorを返す（ユーザーを捏造しない）
//
// 2番目の戻り値はキャッシュから解決したかどうかを示す。
func (c *Cache) Resolve(ctx context.Context, id string, supplied model.Profile) (model.Profile, bool, error) {
	if id == "" {
		return model.Profile{}, false, model.NewIdentityResolutionError(id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.load(ctx)
	if err != nil {
		return model.Profile{}, false, err
	}

	if cached, ok := entries[id]; ok {
		return cached, true, nil
	}

	if supplied.IsEmpty() {
		return model.Profile{}, false, model.NewIdentityResolutionError(id)
	}

	if _, err := c.putIfAbsentLocked(ctx, entries, id, supplied); err != nil {
		return model.Profile{}, false, err
	}
	return supplied, false, nil
}

func (c *Cache) putIfAbsentLocked(ctx context.Context, entries map[string]model.Profile, id string, profile model.Profile) (bool, error) {
	if _, ok := entries[id]; ok {
		return false, nil
	}

	next := make(map[string]model.Profile, len(entries)+1)
	for k, v := range entries {
		next[k] = v
	}
	next[id] = profile

	if err := c.store(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// load は暗号化済みマップを読み込んで復号する。
// 復号できないペイロードは空マップとして扱わずStorageErrorにする。
func (c *Cache) load(ctx context.Context) (map[string]model.Profile, error) {
	data, err := c.repo.Get(ctx, CacheKey)
	if err != nil {
		return nil, model.NewStorageError(fmt.Errorf("failed to read identity cache: %w", err))
	}
	entries := make(map[string]model.Profile)
	if data == nil {
		return entries, nil
	}

	plaintext, err := c.sealer.Open(string(data))
	if err != nil {
		return nil, model.NewStorageError(fmt.Errorf("failed to open identity cache: %w", err))
	}
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, model.NewStorageError(fmt.Errorf("failed to decode identity cache: %w", err))
	}
	return entries, nil
}

func (c *Cache) store(ctx context.Context, entries map[string]model.Profile) error {
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return model.NewStorageError(fmt.Errorf("failed to encode identity cache: %w", err))
	}
	sealed, err := c.sealer.Seal(plaintext)
	if err != nil {
		return model.NewStorageError(fmt.Errorf("failed to seal identity cache: %w", err))
	}
	if err := c.repo.Put(ctx, CacheKey, []byte(sealed)); err != nil {
		return model.NewStorageError(fmt.Errorf("failed to write identity cache: %w", err))
	}
	return nil
}
