package cacheinfra

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-layered-cache/cache"
)

func newTestLocalStore(t *testing.T) *LocalStore {
	t.Helper()

	cfg := DefaultConfig().Local
	cfg.Capacity = 100
	cfg.NumShards = 2

	store, err := NewLocalStore(cfg)
	if err != nil {
		t.Fatalf("failed to create local store: %v", err)
	}
	return store
}

func TestLocalConfig_ToSturdycOptions(t *testing.T) {
	cfg := DefaultConfig().Local
	if options := cfg.ToSturdycOptions(); len(options) != 0 {
		t.Errorf("expected no sturdyc options for default config, got %d", len(options))
	}

	cfg.EvictionInterval = time.Second
	if options := cfg.ToSturdycOptions(); len(options) != 1 {
		t.Errorf("expected 1 sturdyc option with eviction interval, got %d", len(options))
	}
}

func TestNewLocalStore(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*LocalConfig)
		wantError string
	}{
		{
			name:   "valid default config",
			mutate: func(*LocalConfig) {},
		},
		{
			name:      "invalid config - zero capacity",
			mutate:    func(c *LocalConfig) { c.Capacity = 0 },
			wantError: "config error in field Local.Capacity: cannot be blank",
		},
		{
			name:      "invalid config - zero retention",
			mutate:    func(c *LocalConfig) { c.Retention = 0 },
			wantError: "config error in field Local.Retention: cannot be blank",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig().Local
			tt.mutate(&cfg)

			store, err := NewLocalStore(cfg)
			if tt.wantError != "" {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if err.Error() != tt.wantError {
					t.Errorf("expected error message %q, got %q", tt.wantError, err.Error())
				}
				if store != nil {
					t.Error("expected store to be nil when error occurs")
				}
				return
			}

			if err != nil {
				t.Fatalf("expected no error but got: %v", err)
			}
			var _ cache.Store = store
		})
	}
}

func TestLocalStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestLocalStore(t)

	keys, err := store.PutMany(ctx, []cache.Entity{newDoc("a", "A"), newDoc("b", "B")}, 0)
	if err != nil {
		t.Fatalf("PutMany() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != "doc:n:a" || keys[1] != "doc:n:b" {
		t.Errorf("PutMany() keys = %v, want [doc:n:a doc:n:b]", keys)
	}

	got, err := store.GetMany(ctx, []string{"doc:n:a", "doc:n:missing", "doc:n:b"})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected every requested key in the result, got %d entries", len(got))
	}
	if titleOf(got["doc:n:a"]) != "A" || titleOf(got["doc:n:b"]) != "B" {
		t.Errorf("unexpected hits: %v", got)
	}
	if got["doc:n:missing"] != nil {
		t.Errorf("expected nil for a missing key, got %v", got["doc:n:missing"])
	}

	if err := store.DeleteMany(ctx, []string{"doc:n:a", "doc:n:never"}); err != nil {
		t.Fatalf("DeleteMany() error = %v", err)
	}

	got, _ = store.GetMany(ctx, []string{"doc:n:a", "doc:n:b"})
	if got["doc:n:a"] != nil {
		t.Error("expected deleted key to miss")
	}
	if got["doc:n:b"] == nil {
		t.Error("expected untouched key to hit")
	}
}

func TestLocalStore_PerEntryTTL(t *testing.T) {
	ctx := context.Background()
	store := newTestLocalStore(t)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	if _, err := store.PutMany(ctx, []cache.Entity{newDoc("short", "S")}, time.Minute); err != nil {
		t.Fatalf("PutMany() error = %v", err)
	}
	if _, err := store.PutMany(ctx, []cache.Entity{newDoc("forever", "F")}, 0); err != nil {
		t.Fatalf("PutMany() error = %v", err)
	}

	now = now.Add(59 * time.Second)
	got, _ := store.GetMany(ctx, []string{"doc:n:short"})
	if got["doc:n:short"] == nil {
		t.Error("expected entry to be live before its ttl")
	}

	now = now.Add(time.Second)
	got, _ = store.GetMany(ctx, []string{"doc:n:short", "doc:n:forever"})
	if got["doc:n:short"] != nil {
		t.Error("expected entry to expire at its ttl")
	}
	if got["doc:n:forever"] == nil {
		t.Error("expected entry without ttl to stay")
	}
	if store.Len() != 1 {
		t.Errorf("expected expired entry to be dropped, store holds %d", store.Len())
	}
}

func TestLocalStore_RejectsIncompleteKeys(t *testing.T) {
	store := newTestLocalStore(t)

	if _, err := store.PutMany(context.Background(), []cache.Entity{newDraft("x")}, 0); err == nil {
		t.Error("expected error writing an entity without identifier")
	}
}
