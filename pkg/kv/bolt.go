package kv

import (
	"bytes"
	"context"
	"flag"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

var boltBucket = []byte("sealdb")

// BoltConfig configures the on-disk engine.
type BoltConfig struct {
	Path        string        `yaml:"path"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

func (cfg *BoltConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Path, prefix+"path", "sealdb.db", "Path of the BoltDB file.")
	f.DurationVar(&cfg.OpenTimeout, prefix+"open-timeout", time.Second, "How long to wait for the file lock when opening the BoltDB file.")
}

// Bolt is a persistent [Engine] stored in a single BoltDB file. Bolt allows a
// single writable transaction at a time, so a [Txn] from Begin blocks other
// writers until it is committed or rolled back.
type Bolt struct {
	db  *bbolt.DB
	rec *Recorder
}

var _ Engine = (*Bolt)(nil)

// OpenBolt opens or creates the BoltDB file at cfg.Path.
func OpenBolt(cfg BoltConfig) (*Bolt, error) {
	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: cfg.OpenTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "open boltdb %s", cfg.Path)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create bucket")
	}
	return &Bolt{db: db, rec: NewRecorder()}, nil
}

func (b *Bolt) Get(ctx context.Context, key []byte) (value []byte, err error) {
	defer b.observe(time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = b.db.View(func(tx *bbolt.Tx) error {
		value, err = boltGet(tx, key)
		return err
	})
	return value, err
}

func boltGet(tx *bbolt.Tx, key []byte) ([]byte, error) {
	v := tx.Bucket(boltBucket).Get(key)
	if v == nil {
		return nil, ErrNotFound
	}
	// Values are only valid for the life of the transaction.
	return bytes.Clone(v), nil
}

func (b *Bolt) Put(ctx context.Context, key, value []byte) (err error) {
	defer b.observe(time.Now(), &err)
	return b.update(ctx, func(bkt *bbolt.Bucket) error {
		return bkt.Put(key, nonNil(value))
	})
}

func (b *Bolt) Delete(ctx context.Context, key []byte) (err error) {
	defer b.observe(time.Now(), &err)
	return b.update(ctx, func(bkt *bbolt.Bucket) error {
		return bkt.Delete(key)
	})
}

func (b *Bolt) Scan(ctx context.Context, start, end []byte, limit int) (pairs []Pair, err error) {
	defer b.observe(time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = b.db.View(func(tx *bbolt.Tx) error {
		pairs = boltScan(tx, start, end, limit)
		return nil
	})
	return pairs, err
}

func boltScan(tx *bbolt.Tx, start, end []byte, limit int) []Pair {
	var out []Pair
	c := tx.Bucket(boltBucket).Cursor()
	for k, v := c.Seek(start); k != nil; k, v = c.Next() {
		if len(end) > 0 && bytes.Compare(k, end) >= 0 {
			break
		}
		out = append(out, Pair{Key: bytes.Clone(k), Value: bytes.Clone(v)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (b *Bolt) BatchGet(ctx context.Context, keys [][]byte) (values [][]byte, err error) {
	defer b.observe(time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values = make([][]byte, len(keys))
	err = b.db.View(func(tx *bbolt.Tx) error {
		for i, k := range keys {
			if v, err := boltGet(tx, k); err == nil {
				values[i] = v
			}
		}
		return nil
	})
	return values, err
}

func (b *Bolt) BatchPut(ctx context.Context, pairs []Pair) (err error) {
	defer b.observe(time.Now(), &err)
	return b.update(ctx, func(bkt *bbolt.Bucket) error {
		for _, p := range pairs {
			if err := bkt.Put(p.Key, nonNil(p.Value)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) BatchDelete(ctx context.Context, keys [][]byte) (err error) {
	defer b.observe(time.Now(), &err)
	return b.update(ctx, func(bkt *bbolt.Bucket) error {
		for _, k := range keys {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bolt) update(ctx context.Context, fn func(*bbolt.Bucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(boltBucket))
	})
}

func (b *Bolt) Begin(ctx context.Context) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := b.db.Begin(true)
	if err != nil {
		return nil, errors.Wrap(err, "begin boltdb transaction")
	}
	return &boltTxn{tx: tx, rec: b.rec}, nil
}

func (b *Bolt) HealthCheck(context.Context) bool {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(boltBucket) == nil {
			return errors.New("bucket missing")
		}
		return nil
	}) == nil
}

func (b *Bolt) Stats() Stats { return b.rec.Stats() }

func (b *Bolt) Close() error { return b.db.Close() }

func (b *Bolt) observe(start time.Time, err *error) { b.rec.Observe(start, *err) }

type boltTxn struct {
	tx   *bbolt.Tx
	rec  *Recorder
	done bool
}

func (t *boltTxn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return boltGet(t.tx, key)
}

func (t *boltTxn) Scan(ctx context.Context, start, end []byte, limit int) ([]Pair, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return boltScan(t.tx, start, end, limit), nil
}

func (t *boltTxn) Put(ctx context.Context, key, value []byte) error {
	if t.done {
		return ErrTxnDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.tx.Bucket(boltBucket).Put(key, nonNil(value))
}

func (t *boltTxn) Delete(ctx context.Context, key []byte) error {
	if t.done {
		return ErrTxnDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.tx.Bucket(boltBucket).Delete(key)
}

func (t *boltTxn) Commit(ctx context.Context) (err error) {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	defer func(start time.Time) { t.rec.Observe(start, err) }(time.Now())

	if err := ctx.Err(); err != nil {
		_ = t.tx.Rollback()
		return err
	}
	return t.tx.Commit()
}

func (t *boltTxn) Rollback() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	return t.tx.Rollback()
}

func nonNil(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return v
}
