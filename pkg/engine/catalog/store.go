package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/kv"
)

// MetaPrefix is the key prefix table schemas are stored under.
const MetaPrefix = "meta:table:"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Catalog resolves table schemas during planning. Returned tables must not
// be modified.
type Catalog interface {
	Table(name string) (*Table, error)
}

// Static is a fixed, in-memory [Catalog].
type Static map[string]*Table

// NewStatic builds a Static catalog from tables.
func NewStatic(tables ...*Table) Static {
	s := make(Static, len(tables))
	for _, t := range tables {
		s[strings.ToLower(t.Name)] = t
	}
	return s
}

func (s Static) Table(name string) (*Table, error) {
	if t, ok := s[strings.ToLower(name)]; ok {
		return t, nil
	}
	return nil, errors.Wrapf(qerrors.ErrTableNotFound, "%q", name)
}

// Store is a [Catalog] persisted in a key-value engine. All schemas are
// loaded when the store is opened and kept in memory; updates replace the
// cached table wholesale.
type Store struct {
	engine kv.Engine
	logger log.Logger

	mu     sync.RWMutex
	tables map[string]*Table
}

var _ Catalog = (*Store)(nil)

// Open loads every schema stored in engine.
func Open(ctx context.Context, engine kv.Engine, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Store{
		engine: engine,
		logger: log.With(logger, "component", "catalog"),
		tables: make(map[string]*Table),
	}

	prefix := []byte(MetaPrefix)
	pairs, err := engine.Scan(ctx, prefix, kv.PrefixEnd(prefix), 0)
	if err != nil {
		return nil, errors.Wrap(err, "loading catalog")
	}
	for _, p := range pairs {
		var t Table
		if err := json.Unmarshal(p.Value, &t); err != nil {
			return nil, errors.Wrapf(err, "decoding schema %s", p.Key)
		}
		s.tables[strings.ToLower(t.Name)] = &t
	}
	level.Debug(s.logger).Log("msg", "loaded catalog", "tables", len(s.tables))
	return s, nil
}

func metaKey(name string) []byte {
	return []byte(MetaPrefix + strings.ToLower(name))
}

// Table implements [Catalog].
func (s *Store) Table(name string) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tables[strings.ToLower(name)]; ok {
		return t, nil
	}
	return nil, errors.Wrapf(qerrors.ErrTableNotFound, "%q", name)
}

// Tables returns the sorted names of all tables.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for _, t := range s.tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Create validates and stores a new table. With ifNotExists set, creating an
// existing table is a no-op.
func (s *Store) Create(ctx context.Context, t *Table, ifNotExists bool) error {
	t = t.Clone()
	if err := t.Validate(); err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[strings.ToLower(t.Name)]; ok {
		if ifNotExists {
			return nil
		}
		return errors.Wrapf(qerrors.ErrTableExists, "%q", t.Name)
	}
	if err := s.persist(ctx, t); err != nil {
		return err
	}
	s.tables[strings.ToLower(t.Name)] = t
	level.Info(s.logger).Log("msg", "created table", "table", t.Name, "columns", len(t.Columns), "indexes", len(t.Indexes))
	return nil
}

// Drop removes a table schema and returns it. The caller is responsible for
// deleting the table's rows. With ifExists set, dropping a missing table
// returns (nil, nil).
func (s *Store) Drop(ctx context.Context, name string, ifExists bool) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[strings.ToLower(name)]
	if !ok {
		if ifExists {
			return nil, nil
		}
		return nil, errors.Wrapf(qerrors.ErrTableNotFound, "%q", name)
	}
	if err := s.engine.Delete(ctx, metaKey(name)); err != nil {
		return nil, errors.Wrapf(err, "deleting schema of %q", name)
	}
	delete(s.tables, strings.ToLower(name))
	level.Info(s.logger).Log("msg", "dropped table", "table", t.Name)
	return t, nil
}

// AddIndex adds idx to table and returns the updated schema.
func (s *Store) AddIndex(ctx context.Context, table string, idx Index) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.tables[strings.ToLower(table)]
	if !ok {
		return nil, errors.Wrapf(qerrors.ErrTableNotFound, "%q", table)
	}
	t := old.Clone()
	t.Indexes = append(t.Indexes, idx)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, t); err != nil {
		return nil, err
	}
	s.tables[strings.ToLower(table)] = t
	return t, nil
}

func (s *Store) persist(ctx context.Context, t *Table) error {
	data, err := json.Marshal(t)
	if err != nil {
		return errors.Wrapf(err, "encoding schema of %q", t.Name)
	}
	if err := s.engine.Put(ctx, metaKey(t.Name), data); err != nil {
		return errors.Wrapf(err, "storing schema of %q", t.Name)
	}
	return nil
}
