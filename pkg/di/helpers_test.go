package di

import (
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/goliatone/go-layered-cache/internal/cacheinfra"
	"github.com/redis/go-redis/v9"
)

type article struct {
	cache.Base `msgpack:"-"`
	Title      string `msgpack:"title"`
	Section    string `msgpack:"section"`
}

func newArticle(name, title, section string) *article {
	return &article{Base: cache.NewBase(cache.NewNameKey("article", name, nil)), Title: title, Section: section}
}

func newDraft(title string) *article {
	return &article{Base: cache.NewBase(cache.NewIncompleteKey("article", nil)), Title: title}
}

// testConfig returns the defaults with a sqlite database private to the test.
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := cacheinfra.DefaultConfig()
	cfg.Backing.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	return cfg
}

func newTestContainer(t *testing.T, cfg Config, opts ...Option) *Container {
	t.Helper()
	c, err := NewContainer(cfg, opts...)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	cache.RegisterKind[article](c.Codec(), "article")
	return c
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}
