package executor

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/go-kit/log/level"
	"github.com/golang/snappy"
	"github.com/pkg/errors"

	qerrors "github.com/sealdb/sealdb/pkg/engine/internal/errors"
	"github.com/sealdb/sealdb/pkg/engine/internal/types"
)

// spiller sorts inputs larger than its memory budget: sorted runs are
// written to snappy compressed files and merged when read back.
type spiller struct {
	ctx    *Context
	ord    *ordering
	budget uint64
	res    *reservation

	runs    []string
	readers []*runReader
}

func (c *Context) newSpiller(ord *ordering, budget uint64, res *reservation) (*spiller, error) {
	return &spiller{ctx: c, ord: ord, budget: budget, res: res}, nil
}

// sort reads input and returns its rows in order. A zero budget sorts in
// memory.
func (s *spiller) sort(ctx context.Context, input Operator) (func() ([]types.Value, error), error) {
	var (
		buf  []keyedRow
		held uint64
	)
	err := forEachRow(ctx, input, func(row []types.Value) error {
		k, err := s.ord.keyed(row)
		if err != nil {
			return err
		}
		size := rowSize(row) + rowSize(k.key)
		if s.budget > 0 && held+size > s.budget && len(buf) > 0 {
			if err := s.spill(buf); err != nil {
				return err
			}
			s.res.release()
			buf, held = nil, 0
		}
		if err := s.res.grow(size); err != nil {
			return err
		}
		buf = append(buf, k)
		held += size
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.ord.sortRows(buf); err != nil {
		return nil, err
	}
	if len(s.runs) == 0 {
		return sliceRows(buf), nil
	}

	// The rows still in memory come last in input order.
	sources := make([]rowSource, 0, len(s.runs)+1)
	for _, path := range s.runs {
		r, err := s.open(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, r)
	}
	sources = append(sources, &sliceSource{rows: buf})
	return mergeSorted(s.ord, sources)
}

// spill sorts rows and writes them to a new run file.
func (s *spiller) spill(rows []keyedRow) (err error) {
	if err := s.ord.sortRows(rows); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.ctx.cfg.SpillDir, "sealdb-sort-*.run")
	if err != nil {
		return qerrors.New(qerrors.KindResource, errors.Wrap(err, "create sort run"))
	}
	s.runs = append(s.runs, f.Name())
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = qerrors.New(qerrors.KindResource, errors.Wrap(closeErr, "close sort run"))
		}
	}()

	w := snappy.NewBufferedWriter(f)
	var scratch []byte
	for _, r := range rows {
		scratch = appendRow(scratch[:0], r.row)
		if _, err := w.Write(scratch); err != nil {
			return qerrors.New(qerrors.KindResource, errors.Wrap(err, "write sort run"))
		}
	}
	if err := w.Close(); err != nil {
		return qerrors.New(qerrors.KindResource, errors.Wrap(err, "flush sort run"))
	}

	if info, err := f.Stat(); err == nil {
		s.ctx.metrics.spilledBytes.Add(float64(info.Size()))
	}
	s.ctx.metrics.spilledRuns.Inc()
	level.Debug(s.ctx.logger).Log("msg", "spilled sort run", "file", f.Name(), "rows", len(rows))
	return nil
}

func (s *spiller) open(path string) (*runReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, qerrors.New(qerrors.KindResource, errors.Wrap(err, "open sort run"))
	}
	r := &runReader{f: f, r: bufio.NewReader(snappy.NewReader(f)), ord: s.ord}
	s.readers = append(s.readers, r)
	return r, nil
}

// close removes the run files.
func (s *spiller) close() {
	for _, r := range s.readers {
		r.close()
	}
	s.readers = nil
	for _, path := range s.runs {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			level.Warn(s.ctx.logger).Log("msg", "failed to remove sort run", "file", path, "err", err)
		}
	}
	s.runs = nil
}

// runReader reads back the rows of a run file.
type runReader struct {
	f   *os.File
	r   *bufio.Reader
	ord *ordering
}

func (r *runReader) next() (keyedRow, error) {
	if r.f == nil {
		return keyedRow{}, EOF
	}
	row, err := readRow(r.r)
	if errors.Is(err, io.EOF) {
		r.close()
		return keyedRow{}, EOF
	} else if err != nil {
		r.close()
		return keyedRow{}, qerrors.New(qerrors.KindResource, errors.Wrap(err, "read sort run"))
	}
	return r.ord.keyed(row)
}

func (r *runReader) close() {
	if r.f != nil {
		_ = r.f.Close()
		r.f = nil
	}
}

// Run files hold rows as a value count followed by the tagged values.
func appendRow(b []byte, row []types.Value) []byte {
	b = binary.AppendUvarint(b, uint64(len(row)))
	for _, v := range row {
		switch v.Type() {
		case types.ValueTypeBool:
			if v.Bool() {
				b = append(b, tagTrue)
			} else {
				b = append(b, tagFalse)
			}
		case types.ValueTypeInt:
			b = binary.AppendVarint(append(b, tagInt), v.Int())
		case types.ValueTypeFloat:
			b = binary.LittleEndian.AppendUint64(append(b, tagFloat), math.Float64bits(v.Float()))
		case types.ValueTypeStr:
			b = binary.AppendUvarint(append(b, tagString), uint64(len(v.Str())))
			b = append(b, v.Str()...)
		default:
			b = append(b, tagNull)
		}
	}
	return b
}

func readRow(r *bufio.Reader) ([]types.Value, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	row := make([]types.Value, n)
	for i := range row {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		switch tag {
		case tagNull:
			row[i] = types.Null
		case tagTrue, tagFalse:
			row[i] = types.NewBool(tag == tagTrue)
		case tagInt:
			v, err := binary.ReadVarint(r)
			if err != nil {
				return nil, io.ErrUnexpectedEOF
			}
			row[i] = types.NewInt(v)
		case tagFloat:
			var buf [8]byte
			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return nil, io.ErrUnexpectedEOF
			}
			row[i] = types.NewFloat(math.Float64frombits(binary.LittleEndian.Uint64(buf[:])))
		case tagString:
			l, err := binary.ReadUvarint(r)
			if err != nil {
				return nil, io.ErrUnexpectedEOF
			}
			buf := make([]byte, l)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, io.ErrUnexpectedEOF
			}
			row[i] = types.NewString(string(buf))
		default:
			return nil, errors.Errorf("invalid value tag %d", tag)
		}
	}
	return row, nil
}
