package main

import (
	"github.com/goliatone/go-layered-cache/cache"
)

// record is the schemaless entity the CLI stores for every kind.
type record struct {
	cache.Base `msgpack:"-"`
	Fields     map[string]any `msgpack:"fields"`
}

func newRecord(key *cache.Key, fields map[string]any) *record {
	return &record{Base: cache.NewBase(key), Fields: fields}
}

// registerKinds makes every kind in kinds decodable as a record.
func registerKinds(codec *cache.EntityCodec, kinds ...string) {
	for _, kind := range kinds {
		if kind == "" || codec.Registered(kind) {
			continue
		}
		codec.Register(kind, func() cache.Entity { return &record{} })
	}
}

// kindsOf returns the kinds of every segment of keys, parents included.
func kindsOf(keys []string) ([]string, error) {
	var kinds []string
	for _, s := range keys {
		k, err := cache.DecodeKey(s)
		if err != nil {
			return nil, err
		}
		for cur := k; cur != nil; cur = cur.Parent {
			kinds = append(kinds, cur.Kind)
		}
	}
	return kinds, nil
}

// view is the printed form of an entity.
type view struct {
	Key     string         `yaml:"key"`
	Missing bool           `yaml:"missing,omitempty"`
	Fields  map[string]any `yaml:"fields,omitempty"`
}

func viewOf(requested string, e cache.Entity) view {
	if cache.IsNil(e) {
		return view{Key: requested, Missing: true}
	}
	v := view{Key: e.Key().Encode()}
	if r, ok := e.(*record); ok {
		v.Fields = r.Fields
	}
	return v
}
