package kv

import (
	"context"
	"flag"
	"time"

	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the remote engine.
type RedisConfig struct {
	Endpoints   flagext.StringSliceCSV `yaml:"endpoints"`
	Username    string                 `yaml:"username"`
	Password    flagext.Secret         `yaml:"password"`
	DB          int                    `yaml:"db"`
	Namespace   string                 `yaml:"namespace"`
	DialTimeout time.Duration          `yaml:"dial_timeout"`
}

func (cfg *RedisConfig) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	cfg.Endpoints = []string{"localhost:6379"}
	f.Var(&cfg.Endpoints, prefix+"endpoints", "Comma separated list of Redis endpoints. More than one endpoint selects cluster mode.")
	f.StringVar(&cfg.Username, prefix+"username", "", "Redis username.")
	f.Var(&cfg.Password, prefix+"password", "Redis password.")
	f.IntVar(&cfg.DB, prefix+"db", 0, "Redis database index.")
	f.StringVar(&cfg.Namespace, prefix+"namespace", "sealdb", "Prefix of every key written to Redis.")
	f.DurationVar(&cfg.DialTimeout, prefix+"dial-timeout", 5*time.Second, "Timeout for establishing a connection to Redis.")
}

func (cfg *RedisConfig) Validate() error {
	if len(cfg.Endpoints) == 0 {
		return errors.New("at least one redis endpoint is required")
	}
	if cfg.Namespace == "" {
		return errors.New("redis namespace must not be empty")
	}
	return nil
}

// Redis is an [Engine] over a Redis server. Values are stored as plain string
// keys; a sorted set with every member at score 0 keeps the keys in
// lexicographic order for range scans. All keys share a hash tag so that
// multi-key commands work in cluster mode.
//
// Transactions buffer writes locally and apply them in one MULTI/EXEC at
// commit. They do not detect conflicting writes from other clients.
type Redis struct {
	client redis.UniversalClient
	prefix string
	index  string
	rec    *Recorder
}

var _ Engine = (*Redis)(nil)

// NewRedis connects to the endpoints in cfg.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password.String(),
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	return newRedisWithClient(client, cfg.Namespace), nil
}

func newRedisWithClient(client redis.UniversalClient, namespace string) *Redis {
	tag := "{" + namespace + "}"
	return &Redis{
		client: client,
		prefix: tag + ":k:",
		index:  tag + ":keys",
		rec:    NewRecorder(),
	}
}

func (r *Redis) dataKey(key []byte) string { return r.prefix + string(key) }

func (r *Redis) Get(ctx context.Context, key []byte) (_ []byte, err error) {
	defer r.observe(time.Now(), &err)
	v, err := r.client.Get(ctx, r.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *Redis) Put(ctx context.Context, key, value []byte) (err error) {
	defer r.observe(time.Now(), &err)
	return r.apply(ctx, []Pair{{Key: key, Value: value}}, nil)
}

func (r *Redis) Delete(ctx context.Context, key []byte) (err error) {
	defer r.observe(time.Now(), &err)
	return r.apply(ctx, nil, [][]byte{key})
}

func (r *Redis) Scan(ctx context.Context, start, end []byte, limit int) (_ []Pair, err error) {
	defer r.observe(time.Now(), &err)
	return r.scan(ctx, start, end, limit)
}

func (r *Redis) scan(ctx context.Context, start, end []byte, limit int) ([]Pair, error) {
	by := &redis.ZRangeBy{Min: "[" + string(start), Max: "+"}
	if len(end) > 0 {
		by.Max = "(" + string(end)
	}
	if limit > 0 {
		by.Count = int64(limit)
	}
	keys, err := r.client.ZRangeByLex(ctx, r.index, by).Result()
	if err != nil {
		return nil, errors.Wrap(err, "scan key index")
	}
	if len(keys) == 0 {
		return nil, nil
	}

	raw := make([][]byte, len(keys))
	for i, k := range keys {
		raw[i] = []byte(k)
	}
	values, err := r.batchGet(ctx, raw)
	if err != nil {
		return nil, err
	}

	out := make([]Pair, 0, len(keys))
	for i, v := range values {
		// A key removed between the two round trips is skipped.
		if v != nil {
			out = append(out, Pair{Key: raw[i], Value: v})
		}
	}
	return out, nil
}

func (r *Redis) BatchGet(ctx context.Context, keys [][]byte) (_ [][]byte, err error) {
	defer r.observe(time.Now(), &err)
	return r.batchGet(ctx, keys)
}

func (r *Redis) batchGet(ctx context.Context, keys [][]byte) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = r.dataKey(k)
	}
	res, err := r.client.MGet(ctx, names...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "mget")
	}
	out := make([][]byte, len(keys))
	for i, v := range res {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) BatchPut(ctx context.Context, pairs []Pair) (err error) {
	defer r.observe(time.Now(), &err)
	return r.apply(ctx, pairs, nil)
}

func (r *Redis) BatchDelete(ctx context.Context, keys [][]byte) (err error) {
	defer r.observe(time.Now(), &err)
	return r.apply(ctx, nil, keys)
}

// apply writes puts and deletes atomically in one MULTI/EXEC.
func (r *Redis) apply(ctx context.Context, puts []Pair, deletes [][]byte) error {
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range puts {
			pipe.Set(ctx, r.dataKey(p.Key), nonNil(p.Value), 0)
			pipe.ZAdd(ctx, r.index, redis.Z{Score: 0, Member: string(p.Key)})
		}
		for _, k := range deletes {
			pipe.Del(ctx, r.dataKey(k))
			pipe.ZRem(ctx, r.index, string(k))
		}
		return nil
	})
	return errors.Wrap(err, "redis transaction")
}

func (r *Redis) Begin(ctx context.Context) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &redisTxn{engine: r, buf: newWriteBuffer()}, nil
}

func (r *Redis) HealthCheck(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}

func (r *Redis) Stats() Stats { return r.rec.Stats() }

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) observe(start time.Time, err *error) { r.rec.Observe(start, *err) }

type redisTxn struct {
	engine *Redis
	buf    *writeBuffer
	done   bool
}

func (t *redisTxn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	if v, deleted, ok := t.buf.get(key); ok {
		if deleted {
			return nil, ErrNotFound
		}
		return v, nil
	}
	return t.engine.Get(ctx, key)
}

func (t *redisTxn) Scan(ctx context.Context, start, end []byte, limit int) ([]Pair, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	base, err := t.engine.Scan(ctx, start, end, 0)
	if err != nil {
		return nil, err
	}
	return t.buf.overlay(base, start, end, limit), nil
}

func (t *redisTxn) Put(_ context.Context, key, value []byte) error {
	if t.done {
		return ErrTxnDone
	}
	t.buf.put(key, value)
	return nil
}

func (t *redisTxn) Delete(_ context.Context, key []byte) error {
	if t.done {
		return ErrTxnDone
	}
	t.buf.delete(key)
	return nil
}

func (t *redisTxn) Commit(ctx context.Context) (err error) {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	defer t.engine.observe(time.Now(), &err)

	var (
		puts    []Pair
		deletes [][]byte
	)
	t.buf.each(func(key string, value []byte, deleted bool) {
		if deleted {
			deletes = append(deletes, []byte(key))
			return
		}
		puts = append(puts, Pair{Key: []byte(key), Value: value})
	})
	return t.engine.apply(ctx, puts, deletes)
}

func (t *redisTxn) Rollback() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	t.buf = newWriteBuffer()
	return nil
}
