package table

import (
	"github.com/cockroachdb/errors"
	"github.com/davidvella/jsonkv/record"
	"github.com/davidvella/jsonkv/storage"
)

// WriteBatch is the number of slots a Writer buffers before writing them.
const WriteBatch = 256

var (
	ErrLengthMismatch = errors.New("table: entry count does not match header length")
	ErrWriterClosed   = errors.New("table: writer already closed")
)

// Writer lays out a sealed file. Entries must be added in sorted order; the
// writer does not check it.
type Writer struct {
	file   storage.File
	header record.Header

	buf     []byte
	off     int64
	pending int
	added   int
	closed  bool
}

// NewWriter writes the header for h at the start of file.
func NewWriter(file storage.File, h record.Header) (*Writer, error) {
	w := &Writer{
		file:   file,
		header: h,
		buf:    make([]byte, 0, int64(WriteBatch)*h.Stride()),
	}
	w.buf = record.AppendHeader(w.buf, h)
	if err := w.flush(); err != nil {
		return nil, err
	}
	return w, nil
}

// Add appends e to the file. Entries wider than the header's valueSize fail
// with record.ErrRecordTooLarge.
func (w *Writer) Add(e record.Entry) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.added >= w.header.Length {
		return errors.Wrapf(ErrLengthMismatch, "entry %d of %d", w.added+1, w.header.Length)
	}

	enc, err := record.Marshal(e)
	if err != nil {
		return err
	}
	last := w.added == w.header.Length-1
	if w.buf, err = record.AppendSlot(w.buf, enc, w.header.ValueSize, last); err != nil {
		return errors.Wrapf(err, "table: entry %q", e.Key)
	}
	w.added++
	w.pending++

	if w.pending == WriteBatch {
		return w.flush()
	}
	return nil
}

// Close writes any buffered slots and the footer. It does not close the
// underlying file.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true

	if w.added != w.header.Length {
		return errors.Wrapf(ErrLengthMismatch, "added %d, header has %d", w.added, w.header.Length)
	}
	w.buf = append(w.buf, record.Footer...)
	return w.flush()
}

// Size is the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.off
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	n, err := w.file.WriteAt(w.buf, w.off)
	w.off += int64(n)
	if err != nil {
		return errors.Wrapf(err, "table: failed to write at %d", w.off)
	}
	w.buf = w.buf[:0]
	w.pending = 0
	return nil
}
