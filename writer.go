package jsonkv

import (
	"context"
	"iter"

	"github.com/davidvella/jsonkv/loader"
)

// Writer bulk loads a new sealed file. Entries may arrive in any order.
type Writer struct {
	l *loader.Loader
}

// Create starts loading the sealed file at path. The file is only replaced
// once Close succeeds.
func Create(ctx context.Context, path string, opts ...Option) (*Writer, error) {
	o := newOptions(opts)
	l, err := loader.New(ctx, o.fs, path, loader.Options{
		BucketSize: o.bucketSize,
		Compare:    o.compare,
		TempFS:     o.tempFS,
		Logger:     o.logger,
		Metrics:    o.metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Writer{l: l}, nil
}

// Write adds a batch of entries. It returns once the batch is held by the
// loader, spilling to temporary storage first if a bucket fills up.
func (w *Writer) Write(ctx context.Context, entries ...Entry) error {
	return w.l.Write(ctx, entries...)
}

// Close sorts and seals everything written and moves the file into place.
func (w *Writer) Close(ctx context.Context) error {
	return w.l.Close(ctx)
}

// Abort abandons the load, leaving any existing file at path untouched.
func (w *Writer) Abort(ctx context.Context) error {
	return w.l.Abort(ctx)
}

// Stats reports the progress of the load.
func (w *Writer) Stats() loader.Stats {
	return w.l.Stats()
}

// Load writes every entry of seq to a new sealed file at path, handing them
// to the loader in batches.
func Load(ctx context.Context, path string, seq iter.Seq[Entry], opts ...Option) error {
	o := newOptions(opts)
	w, err := Create(ctx, path, opts...)
	if err != nil {
		return err
	}

	batch := make([]Entry, 0, min(o.batchSize, 4096))
	for e := range seq {
		batch = append(batch, e)
		if len(batch) == o.batchSize {
			if err := w.Write(ctx, batch...); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := w.Write(ctx, batch...); err != nil {
		return err
	}
	return w.Close(ctx)
}
