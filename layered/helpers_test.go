package layered

import (
	"github.com/goliatone/go-layered-cache/cache"
	"github.com/goliatone/go-layered-cache/pkg/testsupport"
)

type article struct {
	cache.Base `msgpack:"-"`
	Title      string `msgpack:"title"`
}

func newArticle(name, title string) *article {
	return &article{Base: cache.NewBase(cache.NewNameKey("article", name, nil)), Title: title}
}

func newDraftArticle(title string) *article {
	return &article{Base: cache.NewBase(cache.NewIncompleteKey("article", nil)), Title: title}
}

type author struct {
	cache.Base `msgpack:"-"`
	Name       string `msgpack:"name"`
}

func newAuthorByID(id int64, name string) *author {
	return &author{Base: cache.NewBase(cache.NewIDKey("author", id, nil)), Name: name}
}

type stack struct {
	local       *testsupport.MemoryStore
	distributed *testsupport.MemoryStore
	backing     *testsupport.MemoryStore
	coord       *Coordinator
}

func newStack() *stack {
	s := &stack{
		local:       testsupport.NewMemoryStore("local"),
		distributed: testsupport.NewMemoryStore("distributed"),
		backing:     testsupport.NewMemoryBacking("backing"),
	}
	s.coord = New(Tiers{Local: s.local, Distributed: s.distributed, Backing: s.backing})
	return s
}

func (s *stack) reset() {
	s.local.Reset()
	s.distributed.Reset()
	s.backing.Reset()
}

func only(tiers ...cache.Tier) cache.StorageSet {
	return cache.NewStorageSet(tiers...)
}

func titleOf(e any) string {
	if a, ok := e.(*article); ok && a != nil {
		return a.Title
	}
	return ""
}
