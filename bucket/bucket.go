// Package bucket implements the bounded in-memory runs of the bulk loader.
//
// A Bucket accumulates entries, then sorts them and spills them to a range
// of a temporary file as a run of fixed-width slots. The run is read back in
// order by an Iterator.
package bucket

import (
	"context"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/davidvella/jsonkv/record"
	"github.com/davidvella/jsonkv/storage"
)

const (
	// DefaultSize is the number of entries a bucket holds before it is
	// flushed.
	DefaultSize = 65536
	// ReadBatch is the number of slots an Iterator reads at a time.
	ReadBatch = 64
)

// ErrInvalidState is returned when a bucket is used out of order, such as a
// push after its flush.
var ErrInvalidState = errors.New("bucket: invalid state")

// Bucket is a run of entries owning the range [Start, End) of a file. It is
// not safe for concurrent use.
type Bucket struct {
	file    storage.File
	compare record.Compare

	entries   []record.Entry
	start     int64
	end       int64
	count     int
	valueSize int
	flushed   bool
}

// New returns an empty bucket whose run will be written to file at start. A
// nil compare orders entries by key.
func New(file storage.File, start int64, compare record.Compare) *Bucket {
	if compare == nil {
		compare = record.ByKey
	}
	return &Bucket{
		file:    file,
		compare: compare,
		start:   start,
		end:     start,
	}
}

// Push appends e to the bucket. Keys that are not valid UTF-8 are rejected
// with record.ErrInvalidRecord.
func (b *Bucket) Push(e record.Entry) error {
	if b.flushed {
		return errors.Wrap(ErrInvalidState, "bucket: push after flush")
	}
	if err := record.CheckKey(e.Key); err != nil {
		return err
	}
	b.entries = append(b.entries, e)
	b.count++
	return nil
}

// Flush sorts the accumulated entries and writes them as one contiguous run
// of slots, each as wide as the longest encoded entry. The entries are
// released afterwards.
func (b *Bucket) Flush() error {
	if b.flushed {
		return errors.Wrap(ErrInvalidState, "bucket: already flushed")
	}
	b.flushed = true

	entries := b.entries
	b.entries = nil
	if len(entries) == 0 {
		return nil
	}

	slices.SortFunc(entries, b.compare)

	encoded := make([][]byte, len(entries))
	for i, e := range entries {
		enc, err := record.Marshal(e)
		if err != nil {
			return err
		}
		encoded[i] = enc
		b.valueSize = max(b.valueSize, len(enc))
	}

	buf := make([]byte, 0, b.valueSize*len(encoded))
	for _, enc := range encoded {
		var err error
		if buf, err = record.Pad(buf, enc, b.valueSize); err != nil {
			return err
		}
	}

	if _, err := b.file.WriteAt(buf, b.start); err != nil {
		return errors.Wrapf(err, "bucket: failed to write run at %d", b.start)
	}
	b.end = b.start + int64(len(buf))
	return nil
}

// Iterator returns a forward-only reader over the flushed run.
func (b *Bucket) Iterator() (*Iterator, error) {
	if !b.flushed {
		return nil, errors.Wrap(ErrInvalidState, "bucket: iterate before flush")
	}
	return &Iterator{
		file:      b.file,
		offset:    b.start,
		remaining: b.count,
		valueSize: b.valueSize,
	}, nil
}

// Start is the offset of the first slot.
func (b *Bucket) Start() int64 { return b.start }

// End is the offset just past the last slot. It equals Start until the
// bucket is flushed.
func (b *Bucket) End() int64 { return b.end }

// ValueSize is the slot width of the run, known once flushed.
func (b *Bucket) ValueSize() int { return b.valueSize }

// Len is the number of entries pushed.
func (b *Bucket) Len() int { return b.count }

// Flushed reports whether the run has been written.
func (b *Bucket) Flushed() bool { return b.flushed }

// Iterator yields the entries of a flushed run in sorted order.
type Iterator struct {
	file      storage.File
	offset    int64
	remaining int
	valueSize int

	buf []byte
	pos int
}

// Next returns the next entry. It reports false once the run is exhausted.
func (it *Iterator) Next(ctx context.Context) (record.Entry, bool, error) {
	if it.pos >= len(it.buf) {
		if it.remaining == 0 {
			return record.Entry{}, false, nil
		}
		if err := ctx.Err(); err != nil {
			return record.Entry{}, false, err
		}
		if err := it.fill(); err != nil {
			return record.Entry{}, false, err
		}
	}

	slot := it.buf[it.pos : it.pos+it.valueSize]
	it.pos += it.valueSize
	e, err := record.Decode(slot)
	if err != nil {
		return record.Entry{}, false, err
	}
	return e, true, nil
}

func (it *Iterator) fill() error {
	n := min(it.remaining, ReadBatch)
	size := n * it.valueSize
	if cap(it.buf) < size {
		it.buf = make([]byte, size)
	}
	it.buf = it.buf[:size]
	if err := storage.ReadFull(it.file, it.buf, it.offset); err != nil {
		return errors.Wrapf(err, "bucket: failed to read run at %d", it.offset)
	}
	it.offset += int64(size)
	it.remaining -= n
	it.pos = 0
	return nil
}
