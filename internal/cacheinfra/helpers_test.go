package cacheinfra

import (
	"github.com/goliatone/go-layered-cache/cache"
)

type testDoc struct {
	cache.Base `msgpack:"-"`
	Title      string `msgpack:"title"`
	Views      int    `msgpack:"views"`
}

func newDoc(name, title string) *testDoc {
	return &testDoc{Base: cache.NewBase(cache.NewNameKey("doc", name, nil)), Title: title}
}

func newDraft(title string) *testDoc {
	return &testDoc{Base: cache.NewBase(cache.NewIncompleteKey("doc", nil)), Title: title}
}

func testCodec() *cache.EntityCodec {
	codec := cache.NewEntityCodec()
	cache.RegisterKind[testDoc](codec, "doc")
	return codec
}

func titleOf(e cache.Entity) string {
	if cache.IsNil(e) {
		return ""
	}
	return e.(*testDoc).Title
}
