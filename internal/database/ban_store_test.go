package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cidrbans/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupBanStoreTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true, Logger: silentLogger()})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	if _, err := SetupDB(WithExistingDB(db)); err != nil {
		t.Fatalf("setup database: %v", err)
	}

	t.Cleanup(func() {
		_ = Close(db)
	})

	return db
}

func TestBanStoreInsertAndScan(t *testing.T) {
	store := NewBanStore(setupBanStoreTestDB(t))
	ctx := context.Background()

	ban := domain.BanRecord{
		Range:     "192.168.1.0/24",
		Reason:    "test",
		IssuedBy:  "admin",
		IssuedAt:  "2024-01-01T00:00:00",
		ExpiresAt: "",
	}
	if err := store.Insert(ctx, ban); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	bans, err := store.ScanAll(ctx)
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(bans) != 1 {
		t.Fatalf("ScanAll returned %d bans, want 1", len(bans))
	}
	if bans[0] != ban {
		t.Fatalf("ScanAll returned %+v, want %+v", bans[0], ban)
	}
}

func TestBanStoreRejectsDuplicateRange(t *testing.T) {
	store := NewBanStore(setupBanStoreTestDB(t))
	ctx := context.Background()

	if err := store.Insert(ctx, domain.BanRecord{Range: "10.0.0.0/8", Reason: "first"}); err != nil {
		t.Fatalf("first Insert: %v", err)
	}

	err := store.Insert(ctx, domain.BanRecord{Range: "10.0.0.0/8", Reason: "second"})
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("second Insert error = %v, want ErrDuplicateKey", err)
	}

	bans, err := store.ScanAll(ctx)
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(bans) != 1 || bans[0].Reason != "first" {
		t.Fatalf("ScanAll = %+v, want only the first ban", bans)
	}
}

func TestBanStoreDeleteByKey(t *testing.T) {
	store := NewBanStore(setupBanStoreTestDB(t))
	ctx := context.Background()

	if err := store.Insert(ctx, domain.BanRecord{Range: "172.16.0.0/12"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	removed, err := store.DeleteByKey(ctx, "172.16.0.0/12")
	if err != nil {
		t.Fatalf("DeleteByKey: %v", err)
	}
	if !removed {
		t.Fatal("DeleteByKey reported no row removed")
	}

	removed, err = store.DeleteByKey(ctx, "172.16.0.0/12")
	if err != nil {
		t.Fatalf("second DeleteByKey: %v", err)
	}
	if removed {
		t.Fatal("second DeleteByKey reported a row removed")
	}
}

func TestBanStoreWithoutDatabase(t *testing.T) {
	store := NewBanStore(nil)

	if err := store.Insert(context.Background(), domain.BanRecord{Range: "1.2.3.4/32"}); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Insert error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := store.ScanAll(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("ScanAll error = %v, want ErrStoreUnavailable", err)
	}
}

func TestBanStoreClosedConnection(t *testing.T) {
	db := setupBanStoreTestDB(t)
	store := NewBanStore(db)
	if err := Close(db); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := store.ScanAll(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("ScanAll error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := store.DeleteByKey(context.Background(), "1.2.3.4/32"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("DeleteByKey error = %v, want ErrStoreUnavailable", err)
	}
}

func TestSplitHost(t *testing.T) {
	cases := []struct {
		raw, host, port string
	}{
		{"db.internal", "db.internal", "3306"},
		{"db.internal:3307", "db.internal", "3307"},
		{"db.internal:", "db.internal", "3306"},
	}
	for _, tc := range cases {
		host, port := splitHost(tc.raw, "3306")
		if host != tc.host || port != tc.port {
			t.Errorf("splitHost(%q) = %s, %s; want %s, %s", tc.raw, host, port, tc.host, tc.port)
		}
	}
}

func TestDialectorForUnknownStorage(t *testing.T) {
	if _, err := dialectorFor("oracle"); err == nil {
		t.Fatal("dialectorFor accepted an unsupported storage type")
	}
	if _, err := dialectorFor(StorageRedis); err == nil {
		t.Fatal("dialectorFor returned a SQL dialector for redis")
	}
}
