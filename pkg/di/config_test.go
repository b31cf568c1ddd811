package di

import (
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-layered-cache/internal/cacheinfra"
	"github.com/goliatone/go-layered-cache/pkg/testsupport"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	defaults := cacheinfra.DefaultConfig()
	if cfg.Local.Capacity != defaults.Local.Capacity {
		t.Errorf("Expected default capacity %d, got %d", defaults.Local.Capacity, cfg.Local.Capacity)
	}
	if cfg.Queue.TimeoutCountdown != 10*time.Second || cfg.Backing.BatchSize != 50 {
		t.Errorf("Unexpected queue defaults: %+v", cfg.Queue)
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := testsupport.TempFile(t, "layercache-*.yaml", []byte(`
local:
  capacity: 2000
  default_ttl: 2m
distributed:
  enabled: true
  addr: cache:6379
  prefix: "app:"
queue:
  backend: asynq
  redis_addr: queue:6379
  quota_base_delay: 1m
query:
  ttl: 30s
`))

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Local.Capacity != 2000 || cfg.Local.DefaultTTL != 2*time.Minute {
		t.Errorf("Local = %+v", cfg.Local)
	}
	if !cfg.Distributed.Enabled || cfg.Distributed.Addr != "cache:6379" || cfg.Distributed.Prefix != "app:" {
		t.Errorf("Distributed = %+v", cfg.Distributed)
	}
	if cfg.Queue.Backend != cacheinfra.QueueBackendAsynq || cfg.Queue.QuotaBaseDelay != time.Minute {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	if cfg.Query.TTL != 30*time.Second {
		t.Errorf("Query.TTL = %s", cfg.Query.TTL)
	}
	if cfg.Local.NumShards != cacheinfra.DefaultConfig().Local.NumShards {
		t.Error("fields missing from the file should keep their defaults")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := testsupport.TempFile(t, "layercache-*.yaml", []byte("distributed:\n  addr: file:6379\n"))
	t.Setenv("LAYERCACHE_DISTRIBUTED_ADDR", "env:6379")
	t.Setenv("LAYERCACHE_DISTRIBUTED_ENABLED", "true")
	t.Setenv("LAYERCACHE_QUEUE_MAX_ATTEMPTS", "3")
	t.Setenv("LAYERCACHE_LOCAL_DEFAULT_TTL", "45s")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Distributed.Addr != "env:6379" || !cfg.Distributed.Enabled {
		t.Errorf("Distributed = %+v", cfg.Distributed)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("Queue.MaxAttempts = %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Local.DefaultTTL != 45*time.Second {
		t.Errorf("Local.DefaultTTL = %s", cfg.Local.DefaultTTL)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig("does-not-exist.yaml"); err == nil {
			t.Error("expected an error for a missing file")
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		path := testsupport.TempFile(t, "layercache-*.yaml", []byte("local:\n  capacityy: 10\n"))
		if _, err := LoadConfig(path); err == nil {
			t.Error("expected an error for an unknown field")
		}
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Setenv("LAYERCACHE_BACKING_DRIVER", "oracle")
		_, err := LoadConfig("")
		var configErr *cacheinfra.ConfigError
		if !errors.As(err, &configErr) || configErr.Field != "Backing.Driver" {
			t.Errorf("LoadConfig() error = %v, want Backing.Driver config error", err)
		}
	})

	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("LAYERCACHE_QUERY_TTL", "soon")
		if _, err := LoadConfig(""); err == nil {
			t.Error("expected an error for an unparsable duration")
		}
	})
}

func TestLoadConfigEmptyFile(t *testing.T) {
	path := testsupport.TempFile(t, "layercache-*.yaml", []byte("\n"))
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Local.Backend != cacheinfra.LocalBackendMemory {
		t.Errorf("Local.Backend = %q", cfg.Local.Backend)
	}
}
