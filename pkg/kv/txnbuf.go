package kv

import (
	"bytes"
	"slices"
	"sort"
)

// writeBuffer holds the uncommitted writes of a transaction. A nil value
// marks a deletion.
type writeBuffer struct {
	writes map[string][]byte
	order  []string
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{writes: make(map[string][]byte)}
}

func (b *writeBuffer) put(key, value []byte) {
	k := string(key)
	if _, ok := b.writes[k]; !ok {
		b.order = append(b.order, k)
	}
	if value == nil {
		value = []byte{}
	}
	b.writes[k] = bytes.Clone(value)
}

func (b *writeBuffer) delete(key []byte) {
	k := string(key)
	if _, ok := b.writes[k]; !ok {
		b.order = append(b.order, k)
	}
	b.writes[k] = nil
}

// get returns the buffered value of key. found is false when the key was not
// written by the transaction; deleted is true when it was deleted.
func (b *writeBuffer) get(key []byte) (value []byte, deleted, found bool) {
	v, ok := b.writes[string(key)]
	if !ok {
		return nil, false, false
	}
	return v, v == nil, true
}

// overlay merges the buffered writes in [start, end) into base, which must be
// sorted by key and unlimited within the range.
func (b *writeBuffer) overlay(base []Pair, start, end []byte, limit int) []Pair {
	merged := make(map[string][]byte, len(base)+len(b.writes))
	for _, p := range base {
		merged[string(p.Key)] = p.Value
	}
	for k, v := range b.writes {
		if !inRange([]byte(k), start, end) {
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]Pair, 0, len(keys))
	for _, k := range keys {
		out = append(out, Pair{Key: []byte(k), Value: slices.Clone(merged[k])})
	}
	return out
}

// each calls fn for every buffered write in the order keys were first written.
func (b *writeBuffer) each(fn func(key string, value []byte, deleted bool)) {
	for _, k := range b.order {
		v := b.writes[k]
		fn(k, v, v == nil)
	}
}
