package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

// testDatabaseURL はテスト用のPostgreSQL URLを返す。
// 環境変数 TEST_DATABASE_URL が未設定の場合はテストをスキップする。
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	return url
}

func TestRunSQLiteMigrations_CreatesKVTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gofinances.db")

	if err := RunSQLiteMigrations(path); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer db.Close()

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'kv_entries'").Scan(&name)
	if err == sql.ErrNoRows {
		t.Fatal("kv_entries テーブルが存在しません")
	}
	if err != nil {
		t.Fatalf("テーブル存在確認クエリに失敗: %v", err)
	}
}

func TestRunSQLiteMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gofinances.db")

	if err := RunSQLiteMigrations(path); err != nil {
		t.Fatalf("1回目のマイグレーション実行に失敗: %v", err)
	}
	if err := RunSQLiteMigrations(path); err != nil {
		t.Fatalf("2回目のマイグレーション実行に失敗（冪等性の問題）: %v", err)
	}
}

func TestRunMigrations_Postgres_UpAndDown(t *testing.T) {
	dbURL := testDatabaseURL(t)

	db, err := Open(dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	if _, err := db.Exec(`DROP TABLE IF EXISTS kv_entries; DROP TABLE IF EXISTS schema_migrations;`); err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}

	m, err := NewMigrator(dbURL)
	if err != nil {
		t.Fatalf("Migrator生成に失敗: %v", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		t.Fatalf("Up マイグレーション実行に失敗: %v", err)
	}

	var exists bool
	query := "SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'kv_entries')"
	if err := db.QueryRow(query).Scan(&exists); err != nil {
		t.Fatalf("テーブル存在確認クエリに失敗: %v", err)
	}
	if !exists {
		t.Fatal("Up後に kv_entries が存在しません")
	}

	if err := m.Down(); err != nil {
		t.Fatalf("Down マイグレーション実行に失敗: %v", err)
	}
	if err := db.QueryRow(query).Scan(&exists); err != nil {
		t.Fatalf("テーブル存在確認クエリに失敗: %v", err)
	}
	if exists {
		t.Error("Down後に kv_entries が残っています")
	}
}
