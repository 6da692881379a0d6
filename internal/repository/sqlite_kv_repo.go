package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteKVRepo は端末ローカルのSQLiteを使用したキーバリューリポジトリ。
// バックエンド未指定時のデフォルト。
type SQLiteKVRepo struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLiteKVRepo はSQLiteKVRepoを生成する。
func NewSQLiteKVRepo(db *sql.DB) *SQLiteKVRepo {
	return &SQLiteKVRepo{db: db, clock: time.Now}
}

// Get は指定キーの値を取得する。見つからない場合はnilを返す。
func (r *SQLiteKVRepo) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = ?`,
		key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv entry: %w", err)
	}

	return value, nil
}

// Put は指定キーの値をトランザクション内でUPSERTする。
func (r *SQLiteKVRepo) Put(ctx context.Context, key string, value []byte) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Commit後のRollbackは無視される

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv_entries (key, value, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, r.clock().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to put kv entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Delete は指定キーの値を削除する。
func (r *SQLiteKVRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE key = ?`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete kv entry: %w", err)
	}
	return nil
}

// compile-time interface check
var _ KeyValueRepository = (*SQLiteKVRepo)(nil)
