package jsonkv

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/davidvella/jsonkv/bucket"
	"github.com/davidvella/jsonkv/merge"
	"github.com/davidvella/jsonkv/metrics"
	"github.com/davidvella/jsonkv/record"
	"github.com/davidvella/jsonkv/table"
	"go.uber.org/zap"
)

type (
	// Entry is a key with an encoded JSON value.
	Entry = record.Entry
	// Compare orders entries.
	Compare = record.Compare
	// Range bounds an iteration.
	Range = table.Range
)

// Key returns a bound or lookup target for k.
func Key(k string) *Entry {
	return record.Key(k)
}

var (
	ErrNotFound = errors.New("jsonkv: not found")
	ErrClosed   = errors.New("jsonkv: database closed")

	ErrEmptyDatabase  = record.ErrEmptyDatabase
	ErrInvalidHeader  = record.ErrInvalidHeader
	ErrInvalidRecord  = record.ErrInvalidRecord
	ErrRecordTooLarge = record.ErrRecordTooLarge
	ErrInvalidState   = bucket.ErrInvalidState
)

// DB is a read handle on a sealed file. It is safe for concurrent use.
type DB struct {
	path   string
	opts   options
	logger *zap.Logger

	mu     sync.Mutex
	reader *table.Reader
	closed bool
}

// Open returns a handle on the sealed file at path. The file is opened on
// first use, or by calling (*DB).Open.
func Open(path string, opts ...Option) (*DB, error) {
	if path == "" {
		return nil, errors.New("jsonkv: path cannot be empty")
	}
	o := newOptions(opts)
	return &DB{
		path:   path,
		opts:   o,
		logger: o.logger.Named("db").With(zap.String("path", path)),
	}, nil
}

// Open opens the sealed file and reads its header. Calling it again does
// nothing.
func (db *DB) Open(ctx context.Context) error {
	_, err := db.open(ctx)
	return err
}

func (db *DB) open(ctx context.Context) (*table.Reader, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	if db.reader != nil {
		return db.reader, nil
	}

	f, err := db.opts.fs.Open(ctx, db.path)
	if err != nil {
		return nil, err
	}
	r := table.NewReader(f, db.opts.compare)
	if err := r.Open(); err != nil {
		return nil, errors.CombineErrors(err, f.Close())
	}
	h, _ := r.Header()
	db.logger.Debug("opened", zap.Int("length", h.Length), zap.Int("valueSize", h.ValueSize))
	db.reader = r
	return r, nil
}

// Close releases the file. A closed DB cannot be reopened.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if db.reader == nil {
		return nil
	}
	return db.reader.Close()
}

// Len returns the number of entries.
func (db *DB) Len(ctx context.Context) (int, error) {
	r, err := db.open(ctx)
	if err != nil {
		return 0, err
	}
	return r.Len()
}

// ValueSize returns the slot width of the sealed file.
func (db *DB) ValueSize(ctx context.Context) (int, error) {
	r, err := db.open(ctx)
	if err != nil {
		return 0, err
	}
	h, err := r.Header()
	return h.ValueSize, err
}

type getOptions struct {
	closest bool
}

// GetOption configures a lookup.
type GetOption func(*getOptions)

// WithClosest makes a lookup that finds no exact match return the entry the
// binary search examined last. That entry neighbours the position the key
// would sort at, but is not necessarily the nearest entry overall.
func WithClosest() GetOption {
	return func(o *getOptions) {
		o.closest = true
	}
}

// Get returns the entry stored under key, or ErrNotFound.
func (db *DB) Get(ctx context.Context, key string, opts ...GetOption) (Entry, error) {
	return db.Find(ctx, Entry{Key: key}, opts...)
}

// Find looks up target with the store's order, for orders that compare more
// than the key.
func (db *DB) Find(ctx context.Context, target Entry, opts ...GetOption) (Entry, error) {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	r, err := db.open(ctx)
	if err != nil {
		return Entry{}, err
	}

	start := time.Now()
	res, ok, err := r.Get(ctx, target, o.closest)
	if err != nil {
		return Entry{}, err
	}
	switch {
	case !ok:
		db.opts.metrics.RecordLookup(metrics.LookupMiss, time.Since(start))
		return Entry{}, errors.Wrapf(ErrNotFound, "key %q", target.Key)
	case res.Exact:
		db.opts.metrics.RecordLookup(metrics.LookupHit, time.Since(start))
	default:
		db.opts.metrics.RecordLookup(metrics.LookupClosest, time.Since(start))
	}
	return res.Entry, nil
}

// Iterator walks a range of the store. It is not safe for concurrent use.
type Iterator struct {
	db      *DB
	rng     Range
	it      *table.Iterator
	scanned int
	done    bool
}

var _ merge.Sequence[Entry] = (*Iterator)(nil)

// Iterate returns an iterator over the entries within rng, in order.
func (db *DB) Iterate(rng Range) *Iterator {
	return &Iterator{db: db, rng: rng}
}

// Next returns the next entry, reporting false once the range is exhausted.
func (it *Iterator) Next(ctx context.Context) (Entry, bool, error) {
	if it.it == nil {
		r, err := it.db.open(ctx)
		if err != nil {
			return Entry{}, false, err
		}
		it.it = r.Iterate(it.rng)
	}

	e, ok, err := it.it.Next(ctx)
	if ok {
		it.scanned++
		return e, true, nil
	}
	if !it.done {
		it.done = true
		it.db.opts.metrics.RecordScanned(it.scanned)
	}
	return Entry{}, false, err
}

// All returns the entries within rng as a range-over-func iterator.
func (db *DB) All(ctx context.Context, rng Range) iter.Seq2[Entry, error] {
	return merge.All[Entry](ctx, db.Iterate(rng))
}
