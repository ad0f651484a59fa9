package kv

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/btree"
)

type memItem struct {
	key   []byte
	value []byte
}

func memItemLess(a, b memItem) bool { return bytes.Compare(a.key, b.key) < 0 }

// Memory is an in-memory [Engine] backed by a B-tree. Transactions are
// optimistic: writes are buffered and validated at commit time against every
// key the transaction touched.
type Memory struct {
	rec *Recorder

	mu       sync.RWMutex
	tree     *btree.BTreeG[memItem]
	versions map[string]uint64 // commit sequence of the last write to a key, deletes included
	seq      uint64
	closed   bool
}

var _ Engine = (*Memory)(nil)

// NewMemory returns an empty in-memory engine.
func NewMemory() *Memory {
	return &Memory{
		rec:      NewRecorder(),
		tree:     btree.NewG(32, memItemLess),
		versions: make(map[string]uint64),
	}
}

func (m *Memory) Get(ctx context.Context, key []byte) (_ []byte, err error) {
	defer m.observe(time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.getLocked(key)
}

func (m *Memory) getLocked(key []byte) ([]byte, error) {
	it, ok := m.tree.Get(memItem{key: key})
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(it.value), nil
}

func (m *Memory) Put(ctx context.Context, key, value []byte) (err error) {
	defer m.observe(time.Now(), &err)
	return m.applyPuts(ctx, []Pair{{Key: key, Value: value}})
}

func (m *Memory) Delete(ctx context.Context, key []byte) (err error) {
	defer m.observe(time.Now(), &err)
	return m.applyDeletes(ctx, [][]byte{key})
}

func (m *Memory) Scan(ctx context.Context, start, end []byte, limit int) (_ []Pair, err error) {
	defer m.observe(time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.scanLocked(start, end, limit), nil
}

func (m *Memory) scanLocked(start, end []byte, limit int) []Pair {
	var out []Pair
	iter := func(it memItem) bool {
		out = append(out, Pair{Key: bytes.Clone(it.key), Value: bytes.Clone(it.value)})
		return limit <= 0 || len(out) < limit
	}
	if len(end) == 0 {
		m.tree.AscendGreaterOrEqual(memItem{key: start}, iter)
	} else {
		m.tree.AscendRange(memItem{key: start}, memItem{key: end}, iter)
	}
	return out
}

func (m *Memory) BatchGet(ctx context.Context, keys [][]byte) (_ [][]byte, err error) {
	defer m.observe(time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v, err := m.getLocked(k); err == nil {
			out[i] = v
		}
	}
	return out, nil
}

func (m *Memory) BatchPut(ctx context.Context, pairs []Pair) (err error) {
	defer m.observe(time.Now(), &err)
	return m.applyPuts(ctx, pairs)
}

// applyPuts writes pairs under one commit sequence.
func (m *Memory) applyPuts(ctx context.Context, pairs []Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.seq++
	for _, p := range pairs {
		m.putLocked(p.Key, p.Value)
	}
	return nil
}

func (m *Memory) putLocked(key, value []byte) {
	if value == nil {
		value = []byte{}
	}
	m.tree.ReplaceOrInsert(memItem{key: bytes.Clone(key), value: bytes.Clone(value)})
	m.versions[string(key)] = m.seq
}

func (m *Memory) BatchDelete(ctx context.Context, keys [][]byte) (err error) {
	defer m.observe(time.Now(), &err)
	return m.applyDeletes(ctx, keys)
}

func (m *Memory) applyDeletes(ctx context.Context, keys [][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.seq++
	for _, k := range keys {
		m.deleteLocked(k)
	}
	return nil
}

func (m *Memory) deleteLocked(key []byte) {
	m.tree.Delete(memItem{key: key})
	m.versions[string(key)] = m.seq
}

// Begin starts an optimistic transaction.
func (m *Memory) Begin(ctx context.Context) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return &memTxn{
		engine:   m,
		startSeq: m.seq,
		buf:      newWriteBuffer(),
		reads:    make(map[string]struct{}),
	}, nil
}

func (m *Memory) HealthCheck(context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

func (m *Memory) Stats() Stats { return m.rec.Stats() }

// Len returns the number of keys stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) observe(start time.Time, err *error) { m.rec.Observe(start, *err) }

type memTxn struct {
	engine   *Memory
	startSeq uint64
	buf      *writeBuffer
	reads    map[string]struct{}
	done     bool
}

func (t *memTxn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	if v, deleted, ok := t.buf.get(key); ok {
		if deleted {
			return nil, ErrNotFound
		}
		return bytes.Clone(v), nil
	}
	t.reads[string(key)] = struct{}{}
	return t.engine.Get(ctx, key)
}

func (t *memTxn) Scan(ctx context.Context, start, end []byte, limit int) ([]Pair, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	base, err := t.engine.Scan(ctx, start, end, 0)
	if err != nil {
		return nil, err
	}
	for _, p := range base {
		t.reads[string(p.Key)] = struct{}{}
	}
	return t.buf.overlay(base, start, end, limit), nil
}

func (t *memTxn) Put(_ context.Context, key, value []byte) error {
	if t.done {
		return ErrTxnDone
	}
	t.buf.put(key, value)
	return nil
}

func (t *memTxn) Delete(_ context.Context, key []byte) error {
	if t.done {
		return ErrTxnDone
	}
	t.buf.delete(key)
	return nil
}

func (t *memTxn) Commit(ctx context.Context) (err error) {
	if t.done {
		return ErrTxnDone
	}
	t.done = true

	m := t.engine
	defer m.observe(time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	for k := range t.reads {
		if m.versions[k] > t.startSeq {
			return ErrTxnConflict
		}
	}
	for k := range t.buf.writes {
		if m.versions[k] > t.startSeq {
			return ErrTxnConflict
		}
	}

	m.seq++
	t.buf.each(func(key string, value []byte, deleted bool) {
		if deleted {
			m.deleteLocked([]byte(key))
			return
		}
		m.putLocked([]byte(key), value)
	})
	return nil
}

func (t *memTxn) Rollback() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	t.buf = newWriteBuffer()
	return nil
}
