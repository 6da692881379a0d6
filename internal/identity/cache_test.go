package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/gofinances/internal/model"
	"github.com/hitoshi/gofinances/internal/repository"
	"github.com/hitoshi/gofinances/internal/security"
)

const testHexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// --- モック定義 ---

type mockKVRepo struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
	putFn func(ctx context.Context, key string, value []byte) error
}

func (m *mockKVRepo) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, nil
}

func (m *mockKVRepo) Put(ctx context.Context, key string, value []byte) error {
	if m.putFn != nil {
		return m.putFn(ctx, key, value)
	}
	return nil
}

func (m *mockKVRepo) Delete(_ context.Context, _ string) error {
	return nil
}

var _ repository.KeyValueRepository = (*mockKVRepo)(nil)

func newTestCache(t *testing.T, repo repository.KeyValueRepository) *Cache {
	t.Helper()
	sealer, err := security.NewAESGCMSealerFromHex(testHexKey)
	if err != nil {
		t.Fatalf("NewAESGCMSealerFromHex() error = %v", err)
	}
	return NewCache(repo, sealer)
}

// --- テスト ---

func TestCache_Get_Missing_ReturnsNil(t *testing.T) {
	cache := newTestCache(t, repository.NewMemoryKVRepo())

	got, err := cache.Get(context.Background(), "U1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil", got)
	}
}

// TestCache_PutIfAbsent_WriteOnce は2回目の書き込みが無視されることを検証する。
func TestCache_PutIfAbsent_WriteOnce(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t, repository.NewMemoryKVRepo())

	a := model.Profile{Name: "Ana", Email: "ana@x.com"}
	b := model.Profile{Name: "Bea", Email: "bea@x.com"}

	wrote, err := cache.PutIfAbsent(ctx, "X", a)
	if err != nil {
		t.Fatalf("PutIfAbsent(A) error = %v", err)
	}
	if !wrote {
		t.Error("first PutIfAbsent should report a write")
	}

	wrote, err = cache.PutIfAbsent(ctx, "X", b)
	if err != nil {
		t.Fatalf("PutIfAbsent(B) error = %v", err)
	}
	if wrote {
		t.Error("second PutIfAbsent should report no write")
	}

	got, _ := cache.Get(ctx, "X")
	if got == nil || *got != a {
		t.Errorf("Get(X) = %+v, want %+v", got, a)
	}
}

func TestCache_PutIfAbsent_KeepsOtherEntries(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t, repository.NewMemoryKVRepo())

	_, _ = cache.PutIfAbsent(ctx, "U1", model.Profile{Name: "Ana", Email: "ana@x.com"})
	_, _ = cache.PutIfAbsent(ctx, "U2", model.Profile{Name: "Bea", Email: "bea@x.com"})

	u1, _ := cache.Get(ctx, "U1")
	u2, _ := cache.Get(ctx, "U2")
	if u1 == nil || u1.Name != "Ana" {
		t.Errorf("Get(U1) = %+v", u1)
	}
	if u2 == nil || u2.Name != "Bea" {
		t.Errorf("Get(U2) = %+v", u2)
	}
}

// TestCache_StoredEncrypted は保存された値に平文が含まれないことを検証する。
func TestCache_StoredEncrypted(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryKVRepo()
	cache := newTestCache(t, repo)

	_, _ = cache.PutIfAbsent(ctx, "U1", model.Profile{Name: "Ana", Email: "ana@x.com"})

	raw, _ := repo.Get(ctx, CacheKey)
	if raw == nil {
		t.Fatal("expected cache to be persisted under the fixed key")
	}
	if strings.Contains(string(raw), "ana@x.com") || strings.Contains(string(raw), "U1") {
		t.Errorf("persisted cache is not encrypted: %q", raw)
	}
}

func TestCache_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("初回: IdPの値を書き込んで使う", func(t *testing.T) {
		cache := newTestCache(t, repository.NewMemoryKVRepo())
		supplied := model.Profile{Name: "Ana", Email: "ana@x.com"}

		got, cached, err := cache.Resolve(ctx, "U1", supplied)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got != supplied || cached {
			t.Errorf("Resolve() = %+v, cached=%v", got, cached)
		}
		stored, _ := cache.Get(ctx, "U1")
		if stored == nil || *stored != supplied {
			t.Errorf("Get(U1) = %+v, want %+v", stored, supplied)
		}
	})

	t.Run("2回目: IdPが空でもキャッシュから解決する", func(t *testing.T) {
		cache := newTestCache(t, repository.NewMemoryKVRepo())
		_, _, _ = cache.Resolve(ctx, "U1", model.Profile{Name: "Ana", Email: "ana@x.com"})

		got, cached, err := cache.Resolve(ctx, "U1", model.Profile{})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got.Name != "Ana" || got.Email != "ana@x.com" || !cached {
			t.Errorf("Resolve() = %+v, cached=%v", got, cached)
		}
	})

	t.Run("キャッシュがある場合はIdPの値を無視する", func(t *testing.T) {
		cache := newTestCache(t, repository.NewMemoryKVRepo())
		_, _, _ = cache.Resolve(ctx, "U1", model.Profile{Name: "Ana", Email: "ana@x.com"})

		got, _, err := cache.Resolve(ctx, "U1", model.Profile{Name: "Other", Email: "other@x.com"})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got.Name != "Ana" {
			t.Errorf("Resolve().Name = %q, want %q", got.Name, "Ana")
		}
	})

	t.Run("未登録かつIdPも空ならIdentityResolutionError", func(t *testing.T) {
		repo := repository.NewMemoryKVRepo()
		cache := newTestCache(t, repo)

		_, _, err := cache.Resolve(ctx, "U2", model.Profile{})
		if !errors.Is(err, model.ErrIdentityResolution) {
			t.Fatalf("Resolve() error = %v, want IdentityResolutionError", err)
		}
		raw, _ := repo.Get(ctx, CacheKey)
		if raw != nil {
			t.Error("cache should not be written on resolution failure")
		}
	})

	t.Run("空の識別子はIdentityResolutionError", func(t *testing.T) {
		cache := newTestCache(t, repository.NewMemoryKVRepo())

		_, _, err := cache.Resolve(ctx, "", model.Profile{Name: "Ana"})
		if !errors.Is(err, model.ErrIdentityResolution) {
			t.Fatalf("Resolve() error = %v, want IdentityResolutionError", err)
		}
	})
}

func TestCache_Resolve_WriteFailure_ReturnsStorageError(t *testing.T) {
	repo := &mockKVRepo{
		putFn: func(context.Context, string, []byte) error { return errors.New("disk full") },
	}
	cache := newTestCache(t, repo)

	_, _, err := cache.Resolve(context.Background(), "U1", model.Profile{Name: "Ana", Email: "ana@x.com"})
	if !errors.Is(err, model.ErrStorage) {
		t.Fatalf("Resolve() error = %v, want StorageError", err)
	}
}

// TestCache_CorruptPayload_ReturnsStorageError は壊れたペイロードを空として上書きしないことを検証する。
func TestCache_CorruptPayload_ReturnsStorageError(t *testing.T) {
	putCalled := false
	repo := &mockKVRepo{
		getFn: func(context.Context, string) ([]byte, error) { return []byte("garbage"), nil },
		putFn: func(context.Context, string, []byte) error { putCalled = true; return nil },
	}
	cache := newTestCache(t, repo)

	if _, err := cache.PutIfAbsent(context.Background(), "U1", model.Profile{Name: "Ana"}); !errors.Is(err, model.ErrStorage) {
		t.Fatalf("PutIfAbsent() error = %v, want StorageError", err)
	}
	if putCalled {
		t.Error("corrupt cache must not be overwritten")
	}
}

func TestCache_ReadFailure_ReturnsStorageError(t *testing.T) {
	repo := &mockKVRepo{
		getFn: func(context.Context, string) ([]byte, error) { return nil, errors.New("io") },
	}

	if _, err := newTestCache(t, repo).Get(context.Background(), "U1"); !errors.Is(err, model.ErrStorage) {
		t.Fatalf("Get() error = %v, want StorageError", err)
	}
}
