package executor

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/dolthub/swiss"

	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// Value tags of the hash encoding.
const (
	tagNull byte = iota
	tagFalse
	tagTrue
	tagInt
	tagFloat
	tagString
)

// hasher hashes tuples of values so that values comparing equal hash
// equally: integral floats hash like the integer of the same value.
type hasher struct {
	d   *xxhash.Digest
	buf [9]byte
}

func newHasher() *hasher { return &hasher{d: xxhash.New()} }

func (h *hasher) sum(vals []types.Value) uint64 {
	h.d.Reset()
	for _, v := range vals {
		h.write(v)
	}
	return h.d.Sum64()
}

func (h *hasher) write(v types.Value) {
	switch v.Type() {
	case types.ValueTypeBool:
		if v.Bool() {
			_, _ = h.d.Write([]byte{tagTrue})
		} else {
			_, _ = h.d.Write([]byte{tagFalse})
		}
	case types.ValueTypeInt:
		h.writeInt(v.Int())
	case types.ValueTypeFloat:
		f := v.Float()
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			h.writeInt(int64(f))
			return
		}
		h.buf[0] = tagFloat
		binary.LittleEndian.PutUint64(h.buf[1:], math.Float64bits(f))
		_, _ = h.d.Write(h.buf[:])
	case types.ValueTypeStr:
		s := v.Str()
		h.buf[0] = tagString
		binary.LittleEndian.PutUint64(h.buf[1:], uint64(len(s)))
		_, _ = h.d.Write(h.buf[:])
		_, _ = h.d.WriteString(s)
	default:
		_, _ = h.d.Write([]byte{tagNull})
	}
}

func (h *hasher) writeInt(i int64) {
	h.buf[0] = tagInt
	binary.LittleEndian.PutUint64(h.buf[1:], uint64(i))
	_, _ = h.d.Write(h.buf[:])
}

func hasNull(vals []types.Value) bool {
	for _, v := range vals {
		if v.IsNull() {
			return true
		}
	}
	return false
}

// tuplesEqual reports whether two tuples hold equal values. NULL equals
// NULL, as required for grouping and duplicate elimination.
func tuplesEqual(a, b []types.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// tupleSet stores distinct tuples and assigns each one a dense id in order
// of first insertion.
type tupleSet struct {
	h       *hasher
	buckets *swiss.Map[uint64, []int]
	tuples  [][]types.Value
}

func newTupleSet(size int) *tupleSet {
	return &tupleSet{h: newHasher(), buckets: swiss.NewMap[uint64, []int](uint32(max(size, 16)))}
}

// find returns the id of t.
func (s *tupleSet) find(t []types.Value) (int, bool) {
	ids, _ := s.buckets.Get(s.h.sum(t))
	for _, id := range ids {
		if tuplesEqual(s.tuples[id], t) {
			return id, true
		}
	}
	return -1, false
}

// insert adds t unless present and returns its id and whether it was added.
func (s *tupleSet) insert(t []types.Value) (int, bool) {
	key := s.h.sum(t)
	ids, _ := s.buckets.Get(key)
	for _, id := range ids {
		if tuplesEqual(s.tuples[id], t) {
			return id, false
		}
	}
	id := len(s.tuples)
	s.tuples = append(s.tuples, t)
	s.buckets.Put(key, append(ids, id))
	return id, true
}

func (s *tupleSet) len() int { return len(s.tuples) }
