package database

import (
	"context"
	"errors"
	"testing"

	"cidrbans/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisBanStore(t *testing.T) (*RedisBanStore, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return NewRedisBanStore(client, ""), server
}

func TestRedisBanStoreInsertAndScan(t *testing.T) {
	store, _ := setupRedisBanStore(t)
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
	if len(bans) != 1 || bans[0] != ban {
		t.Fatalf("ScanAll = %+v, want [%+v]", bans, ban)
	}
}

func TestRedisBanStoreRejectsDuplicateRange(t *testing.T) {
	store, _ := setupRedisBanStore(t)
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

func TestRedisBanStoreDeleteByKey(t *testing.T) {
	store, _ := setupRedisBanStore(t)
	ctx := context.Background()

	if err := store.Insert(ctx, domain.BanRecord{Range: "172.16.0.0/12"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	removed, err := store.DeleteByKey(ctx, "172.16.0.0/12")
	if err != nil {
		t.Fatalf("DeleteByKey: %v", err)
	}
	if !removed {
		t.Fatal("DeleteByKey reported no field removed")
	}

	removed, err = store.DeleteByKey(ctx, "172.16.0.0/12")
	if err != nil {
		t.Fatalf("second DeleteByKey: %v", err)
	}
	if removed {
		t.Fatal("second DeleteByKey reported a field removed")
	}
}

func TestRedisBanStoreServerErrors(t *testing.T) {
	store, server := setupRedisBanStore(t)
	ctx := context.Background()
	server.SetError("LOADING redis is loading the dataset in memory")

	if err := store.Insert(ctx, domain.BanRecord{Range: "1.2.3.4/32"}); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Insert error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := store.DeleteByKey(ctx, "1.2.3.4/32"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("DeleteByKey error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := store.ScanAll(ctx); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("ScanAll error = %v, want ErrStoreUnavailable", err)
	}
}

func TestRedisBanStoreWithoutClient(t *testing.T) {
	store := NewRedisBanStore(nil, "")

	if err := store.Insert(context.Background(), domain.BanRecord{Range: "1.2.3.4/32"}); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Insert error = %v, want ErrStoreUnavailable", err)
	}
}

func TestRedisBanStoreSkipsUndecodableEntries(t *testing.T) {
	store, server := setupRedisBanStore(t)
	ctx := context.Background()

	if err := store.Insert(ctx, domain.BanRecord{Range: "10.0.0.0/8", Reason: "spam"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	server.HSet(defaultBansHashKey, "192.168.0.0/16", "{not json")

	bans, err := store.ScanAll(ctx)
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(bans) != 1 || bans[0].Range != "10.0.0.0/8" {
		t.Fatalf("ScanAll = %+v, want only 10.0.0.0/8", bans)
	}
}

func TestDecodeBanHashUsesFieldAsRange(t *testing.T) {
	bans := decodeBanHash(map[string]string{
		"10.0.0.0/8": `{"range":"ignored","reason":"spam","issued_by":"ops","issued_at":"","expires_at":""}`,
	})
	if len(bans) != 1 || bans[0].Range != "10.0.0.0/8" || bans[0].Reason != "spam" {
		t.Fatalf("decodeBanHash = %+v", bans)
	}
}
