// Package storage declares the random access byte storage the loader and the
// reader are written against.
//
// A File is addressed by offset. Implementations must allow concurrent ReadAt
// calls; writes are issued by a single goroutine.
package storage

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
)

// ErrShortRead is returned by ReadFull when a file ends before the requested
// range does.
var ErrShortRead = errors.New("storage: short read")

// File is an offset addressed file.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Size reports the current size of the file in bytes.
	Size() (int64, error)
	// Truncate discards the contents of the file.
	Truncate() error
	// Destroy closes the file and removes it from its FS.
	Destroy() error
}

// FS creates, opens and removes named files.
type FS interface {
	// Open opens an existing file for reading.
	Open(ctx context.Context, name string) (File, error)
	// Create creates name for reading and writing, truncating any existing
	// file.
	Create(ctx context.Context, name string) (File, error)
	// Rename atomically replaces newname with oldname.
	Rename(ctx context.Context, oldname, newname string) error
	// Remove deletes name.
	Remove(ctx context.Context, name string) error
}

// ReadFull reads len(p) bytes at off. Unlike io.ReaderAt it never reports
// io.EOF for a complete read, and it reports ErrShortRead for an incomplete
// one.
func ReadFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return errors.Wrapf(ErrShortRead, "read %d of %d bytes at offset %d", n, len(p), off)
	}
	return errors.Wrapf(err, "storage: read %d bytes at offset %d", len(p), off)
}
