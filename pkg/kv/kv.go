// Package kv defines the ordered key-value contract the query engine stores
// rows in, along with the engines that implement it.
package kv

import (
	"bytes"
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("key not found")
	// ErrTxnDone is returned when a transaction is used after Commit or
	// Rollback.
	ErrTxnDone = errors.New("transaction already committed or rolled back")
	// ErrTxnConflict is returned by Commit when a key the transaction read or
	// wrote was changed by another transaction after it began.
	ErrTxnConflict = errors.New("transaction conflict")
	// ErrClosed is returned by engines that have been closed.
	ErrClosed = errors.New("engine closed")
)

// Pair is a key and its value.
type Pair struct {
	Key   []byte
	Value []byte
}

// Reader is the read side shared by engines and transactions.
type Reader interface {
	// Get returns the value of key, or [ErrNotFound].
	Get(ctx context.Context, key []byte) ([]byte, error)
	// Scan returns the pairs with start <= key < end in key order. An empty
	// end means no upper bound. A limit <= 0 means no limit.
	Scan(ctx context.Context, start, end []byte, limit int) ([]Pair, error)
}

// Writer is the write side shared by engines and transactions.
type Writer interface {
	Put(ctx context.Context, key, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key []byte) error
}

// Txn is a transaction. Reads observe the transaction's own writes. Commit
// and Rollback consume the handle: any later call returns [ErrTxnDone].
type Txn interface {
	Reader
	Writer
	Commit(ctx context.Context) error
	Rollback() error
}

// Engine is an ordered key-value store.
type Engine interface {
	Reader
	Writer

	// BatchGet returns one value per key, nil for missing keys.
	BatchGet(ctx context.Context, keys [][]byte) ([][]byte, error)
	BatchPut(ctx context.Context, pairs []Pair) error
	BatchDelete(ctx context.Context, keys [][]byte) error

	Begin(ctx context.Context) (Txn, error)

	// HealthCheck reports whether the engine can serve requests.
	HealthCheck(ctx context.Context) bool
	Stats() Stats

	Close() error
}

// Stats summarizes the operations an engine served.
type Stats struct {
	Total   uint64
	Success uint64
	Failed  uint64

	// AvgLatency is an exponentially weighted moving average over the last
	// minute.
	AvgLatency time.Duration
	// P99Latency is estimated from a quantile sketch over all operations.
	P99Latency time.Duration
}

// PrefixEnd returns the smallest key greater than every key with the given
// prefix, or nil if no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// inRange reports whether start <= key < end, where an empty end is
// unbounded.
func inRange(key, start, end []byte) bool {
	return bytes.Compare(key, start) >= 0 && (len(end) == 0 || bytes.Compare(key, end) < 0)
}
