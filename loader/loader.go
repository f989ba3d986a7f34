// Package loader bulk loads entries into a sealed file.
//
// Entries are buffered in buckets of bounded size. A full bucket is sorted
// and spilled to a temporary file, each bucket right after the previous one.
// Closing the loader merges the spilled runs with a tournament tree and
// writes the merged sequence to a sealed file, which replaces the target
// atomically. The temporary file is removed whether the load succeeds or
// fails.
package loader

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/davidvella/jsonkv/bucket"
	"github.com/davidvella/jsonkv/merge"
	"github.com/davidvella/jsonkv/metrics"
	"github.com/davidvella/jsonkv/record"
	"github.com/davidvella/jsonkv/storage"
	"github.com/davidvella/jsonkv/table"
	"go.uber.org/zap"
)

// State is the stage a Loader is in.
type State int

const (
	Ingesting State = iota
	Merging
	Sealing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Ingesting:
		return "ingesting"
	case Merging:
		return "merging"
	case Sealing:
		return "sealing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrInvalidState is returned for calls the current state does not allow.
var ErrInvalidState = bucket.ErrInvalidState

// Options configures a Loader. The zero value is usable.
type Options struct {
	// BucketSize is the number of entries buffered before a spill.
	// Defaults to bucket.DefaultSize.
	BucketSize int
	// Compare orders entries. Defaults to record.ByKey.
	Compare record.Compare
	// TempFS holds the spill file. Defaults to the FS of the sealed file.
	TempFS storage.FS
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics may be nil.
	Metrics *metrics.Registry
}

// BucketStats describes one spilled bucket.
type BucketStats struct {
	Start     int64
	End       int64
	Len       int
	ValueSize int
}

// Stats describes a load.
type Stats struct {
	Buckets []BucketStats
	// Entries is the number of entries written so far.
	Entries int
	// ValueSize is the slot width of the sealed file, known once merging.
	ValueSize int
	// Bytes is the size of the sealed file, known once done.
	Bytes int64
}

// TempName is the name of the spill file used while loading name.
func TempName(name string) string { return name + ".tmp" }

// SealName is the name the sealed file is written under before it replaces
// name.
func SealName(name string) string { return name + ".seal" }

// Loader drives a single load. It is not safe for concurrent use.
type Loader struct {
	fs      storage.FS
	tempFS  storage.FS
	name    string
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Registry

	state   State
	started time.Time
	temp    storage.File
	seal    storage.File
	current *bucket.Bucket
	buckets []*bucket.Bucket
	next    int64
	stats   Stats
}

// New starts a load of name on fs and creates its spill file.
func New(ctx context.Context, fs storage.FS, name string, opts Options) (*Loader, error) {
	if opts.BucketSize <= 0 {
		opts.BucketSize = bucket.DefaultSize
	}
	if opts.Compare == nil {
		opts.Compare = record.ByKey
	}
	if opts.TempFS == nil {
		opts.TempFS = fs
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	temp, err := opts.TempFS.Create(ctx, TempName(name))
	if err != nil {
		return nil, errors.Wrap(err, "loader: failed to create spill file")
	}

	return &Loader{
		fs:      fs,
		tempFS:  opts.TempFS,
		name:    name,
		opts:    opts,
		logger:  opts.Logger.Named("loader").With(zap.String("name", name)),
		metrics: opts.Metrics,
		state:   Ingesting,
		started: time.Now(),
		temp:    temp,
	}, nil
}

// State returns the current state.
func (l *Loader) State() State { return l.state }

// Stats returns a snapshot of the load's progress.
func (l *Loader) Stats() Stats {
	s := l.stats
	s.Buckets = make([]BucketStats, len(l.buckets))
	for i, b := range l.buckets {
		s.Buckets[i] = BucketStats{Start: b.Start(), End: b.End(), Len: b.Len(), ValueSize: b.ValueSize()}
	}
	return s
}

// Write hands a batch of entries to the loader. A bucket that fills up is
// spilled before Write returns, so the loader never holds more than one
// bucket of entries. Any error fails the whole load.
func (l *Loader) Write(ctx context.Context, entries ...record.Entry) error {
	if l.state != Ingesting {
		return errors.Wrapf(ErrInvalidState, "loader: write while %s", l.state)
	}
	if err := ctx.Err(); err != nil {
		return l.fail(err)
	}

	for _, e := range entries {
		if l.current == nil {
			l.current = bucket.New(l.temp, l.next, l.opts.Compare)
		}
		if err := l.current.Push(e); err != nil {
			return l.fail(err)
		}
		l.stats.Entries++

		if l.current.Len() >= l.opts.BucketSize {
			if err := ctx.Err(); err != nil {
				return l.fail(err)
			}
			if err := l.flush(); err != nil {
				return l.fail(err)
			}
		}
	}
	return nil
}

func (l *Loader) flush() error {
	b := l.current
	l.current = nil

	start := time.Now()
	if err := b.Flush(); err != nil {
		return err
	}
	l.buckets = append(l.buckets, b)
	l.next = b.End()

	l.metrics.RecordBucketFlush(b.Len(), time.Since(start))
	l.logger.Debug("bucket flushed",
		zap.Int("bucket", len(l.buckets)-1),
		zap.Int("entries", b.Len()),
		zap.Int("valueSize", b.ValueSize()),
		zap.Int64("start", b.Start()),
		zap.Int64("end", b.End()),
	)
	return nil
}

// Close spills the last bucket, merges all buckets into the sealed file and
// moves it into place.
func (l *Loader) Close(ctx context.Context) error {
	if l.state != Ingesting {
		return errors.Wrapf(ErrInvalidState, "loader: close while %s", l.state)
	}
	if l.current != nil {
		if err := l.flush(); err != nil {
			return l.fail(err)
		}
	}

	l.state = Merging
	tree, header, err := l.merge(ctx)
	if err != nil {
		return l.fail(err)
	}

	l.state = Sealing
	if err := l.write(ctx, tree, header); err != nil {
		return l.fail(err)
	}
	if err := l.fs.Rename(ctx, SealName(l.name), l.name); err != nil {
		return l.fail(err)
	}
	l.seal = nil

	l.state = Done
	err = l.cleanup()
	l.metrics.RecordLoad(metrics.ResultSuccess, l.stats.Entries, l.stats.Bytes, time.Since(l.started))
	l.logger.Info("load complete",
		zap.Int("entries", l.stats.Entries),
		zap.Int("buckets", len(l.buckets)),
		zap.Int("valueSize", l.stats.ValueSize),
		zap.Int64("bytes", l.stats.Bytes),
		zap.Duration("elapsed", time.Since(l.started)),
	)
	if err != nil {
		l.logger.Warn("failed to remove spill file", zap.Error(err))
	}
	return nil
}

func (l *Loader) merge(ctx context.Context) (*merge.Tree[record.Entry], record.Header, error) {
	var header record.Header
	seqs := make([]merge.Sequence[record.Entry], 0, len(l.buckets))
	for _, b := range l.buckets {
		it, err := b.Iterator()
		if err != nil {
			return nil, header, err
		}
		seqs = append(seqs, it)
		header.ValueSize = max(header.ValueSize, b.ValueSize())
		header.Length += b.Len()
	}
	l.stats.ValueSize = header.ValueSize

	tree := merge.New(seqs, l.opts.Compare)
	if err := tree.Prime(ctx); err != nil {
		return nil, header, errors.Wrap(err, "loader: failed to prime merge")
	}
	return tree, header, nil
}

func (l *Loader) write(ctx context.Context, tree *merge.Tree[record.Entry], header record.Header) error {
	seal, err := l.fs.Create(ctx, SealName(l.name))
	if err != nil {
		return errors.Wrap(err, "loader: failed to create sealed file")
	}
	l.seal = seal

	w, err := table.NewWriter(seal, header)
	if err != nil {
		return err
	}
	for i := 0; ; i++ {
		if i%table.WriteBatch == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		e, ok, err := tree.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := w.Add(e); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	l.stats.Bytes = w.Size()
	return seal.Close()
}

// Abort abandons a load that has not been closed and removes its files.
// Aborting a failed load does nothing.
func (l *Loader) Abort(ctx context.Context) error {
	switch l.state {
	case Failed:
		return nil
	case Done:
		return errors.Wrap(ErrInvalidState, "loader: abort after close")
	}
	l.state = Failed
	err := l.cleanup()
	l.metrics.RecordLoad(metrics.ResultAborted, l.stats.Entries, 0, time.Since(l.started))
	l.logger.Info("load aborted", zap.Int("entries", l.stats.Entries))
	return err
}

// fail ends the load with err, removing the spill file and any partial
// sealed file.
func (l *Loader) fail(err error) error {
	l.state = Failed
	l.current = nil
	if cerr := l.cleanup(); cerr != nil {
		err = errors.CombineErrors(err, cerr)
	}
	l.metrics.RecordLoad(metrics.ResultFailure, l.stats.Entries, 0, time.Since(l.started))
	l.logger.Error("load failed", zap.Int("entries", l.stats.Entries), zap.Error(err))
	return err
}

func (l *Loader) cleanup() error {
	var err error
	if l.temp != nil {
		err = errors.CombineErrors(err, l.temp.Destroy())
		l.temp = nil
	}
	if l.seal != nil {
		err = errors.CombineErrors(err, l.seal.Destroy())
		l.seal = nil
	}
	return err
}
