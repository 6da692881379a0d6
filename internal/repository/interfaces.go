// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import "context"

// KeyValueRepository は固定キーで値を保存するストレージのインターフェース。
// セッションレコードと暗号化済みidentityキャッシュは、それぞれ独立したキーで保存される。
// 各操作は完全に成功するか完全に失敗し、書きかけの値が残ることはない。
type KeyValueRepository interface {
	// Get は指定キーの値を取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, key string) ([]byte, error)

	// Put は指定キーの値を上書き保存する。
	Put(ctx context.Context, key string, value []byte) error

	// Delete は指定キーの値を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
}
