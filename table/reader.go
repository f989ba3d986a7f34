package table

import (
	"context"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/davidvella/jsonkv/record"
	"github.com/davidvella/jsonkv/storage"
)

// MinBlockSize is the least number of slots an Iterator reads at a time.
const MinBlockSize = 16

// blockBytes is the read size an Iterator aims for.
const blockBytes = 65536

// Result is the outcome of a lookup.
type Result struct {
	Entry record.Entry
	// Index is the position of Entry in the file.
	Index int
	// Exact reports whether Entry compares equal to the target.
	Exact bool
}

// Reader looks up entries in a sealed file.
type Reader struct {
	file    storage.File
	compare record.Compare

	mu         sync.Mutex
	opened     bool
	header     record.Header
	stride     int64
	dataOffset int64
}

// NewReader returns a Reader over file. A nil compare orders entries by key;
// it must be the order the file was written in.
func NewReader(file storage.File, compare record.Compare) *Reader {
	if compare == nil {
		compare = record.ByKey
	}
	return &Reader{file: file, compare: compare}
}

// Open reads and validates the header. Only the first successful call does
// any I/O; every other method opens the reader on demand.
func (r *Reader) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		return nil
	}

	size, err := r.file.Size()
	if err != nil {
		return errors.Wrap(err, "table: failed to stat file")
	}
	if size == 0 {
		return record.ErrEmptyDatabase
	}

	prefix := make([]byte, min(size, record.HeaderPrefixSize))
	if err := storage.ReadFull(r.file, prefix, 0); err != nil {
		return errors.Wrap(err, "table: failed to read header")
	}
	h, dataOffset, err := record.ParseHeader(prefix)
	if err != nil {
		return err
	}
	stride := h.Stride()
	if stride > size {
		return errors.Wrapf(record.ErrInvalidHeader, "file has %d bytes, a slot needs %d", size, stride)
	}
	if h.Length > 0 && int64(h.Length) > (math.MaxInt64-dataOffset)/stride {
		return errors.Wrapf(record.ErrInvalidHeader, "%d slots of %d bytes overflow", h.Length, stride)
	}
	if need := dataOffset + h.DataSize(); size < need {
		return errors.Wrapf(record.ErrInvalidHeader, "file has %d bytes, header needs %d", size, need)
	}

	r.header = h
	r.stride = stride
	r.dataOffset = dataOffset
	r.opened = true
	return nil
}

// Header returns the header of the file.
func (r *Reader) Header() (record.Header, error) {
	if err := r.Open(); err != nil {
		return record.Header{}, err
	}
	return r.header, nil
}

// Len returns the number of entries in the file.
func (r *Reader) Len() (int, error) {
	h, err := r.Header()
	return h.Length, err
}

// BlockSize is the number of slots an Iterator reads at a time.
func (r *Reader) BlockSize() (int, error) {
	if err := r.Open(); err != nil {
		return 0, err
	}
	return blockSize(r.stride), nil
}

func blockSize(stride int64) int {
	return int(max(MinBlockSize, blockBytes/stride))
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Get binary searches the file for target. When no entry compares equal it
// reports false, or with closest set it returns the last entry probed by the
// search, which neighbours the position target would take. An empty file
// never matches.
func (r *Reader) Get(ctx context.Context, target record.Entry, closest bool) (Result, bool, error) {
	if err := r.Open(); err != nil {
		return Result{}, false, err
	}

	var (
		last   Result
		probed bool
		slot   = make([]byte, r.stride)
	)
	lo, hi := 0, r.header.Length-1
	for lo <= hi {
		if err := ctx.Err(); err != nil {
			return Result{}, false, err
		}
		mid := lo + (hi-lo)/2
		e, err := r.entryAt(slot, mid)
		if err != nil {
			return Result{}, false, err
		}

		c := r.compare(e, target)
		if c == 0 {
			return Result{Entry: e, Index: mid, Exact: true}, true, nil
		}
		last, probed = Result{Entry: e, Index: mid}, true
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	if closest && probed {
		return last, true, nil
	}
	return Result{}, false, nil
}

func (r *Reader) offset(i int) int64 {
	return r.dataOffset + int64(i)*r.stride
}

func (r *Reader) entryAt(slot []byte, i int) (record.Entry, error) {
	if err := storage.ReadFull(r.file, slot, r.offset(i)); err != nil {
		return record.Entry{}, errors.Wrapf(err, "table: failed to read entry %d", i)
	}
	e, err := record.Decode(slot)
	if err != nil {
		return record.Entry{}, errors.Wrapf(err, "table: entry %d", i)
	}
	return e, nil
}
