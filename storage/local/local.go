// Package local implements storage.FS on top of a pebble vfs.FS. vfs.Default
// stores files on disk and vfs.NewMem keeps them in memory.
//
// Files are written front to back: WriteAt only accepts the offset the
// previous write ended at.
package local

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/davidvella/jsonkv/storage"
)

var (
	ErrNotSequential = errors.New("local: write does not continue at the end of the file")
	ErrReadOnly      = errors.New("local: file is read only")
)

// Storage resolves names relative to dir.
type Storage struct {
	fs  vfs.FS
	dir string
}

var _ storage.FS = (*Storage)(nil)

// New returns a Storage over fs. An empty dir leaves names untouched.
func New(fs vfs.FS, dir string) *Storage {
	return &Storage{fs: fs, dir: dir}
}

// NewLocalStorage returns a Storage rooted at dir on the local disk.
func NewLocalStorage(dir string) *Storage {
	return New(vfs.Default, dir)
}

func (s *Storage) path(name string) string {
	if s.dir == "" {
		return name
	}
	return s.fs.PathJoin(s.dir, name)
}

// Create creates name, and any missing parent directory, truncating an
// existing file.
func (s *Storage) Create(_ context.Context, name string) (storage.File, error) {
	path := s.path(name)
	if dir := s.fs.PathDir(path); dir != "" && dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "local: failed to create directory %s", dir)
		}
	}
	f, err := s.fs.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "local: failed to create file %s", path)
	}
	return &file{fs: s.fs, path: path, f: f, writable: true}, nil
}

// Open opens an existing file for reading.
func (s *Storage) Open(_ context.Context, name string) (storage.File, error) {
	path := s.path(name)
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "local: failed to open file %s", path)
	}
	return &file{fs: s.fs, path: path, f: f}, nil
}

func (s *Storage) Rename(_ context.Context, oldname, newname string) error {
	oldpath, newpath := s.path(oldname), s.path(newname)
	if err := s.fs.Rename(oldpath, newpath); err != nil {
		return errors.Wrapf(err, "local: failed to rename %s to %s", oldpath, newpath)
	}
	return nil
}

func (s *Storage) Remove(_ context.Context, name string) error {
	path := s.path(name)
	if err := s.fs.Remove(path); err != nil {
		return errors.Wrapf(err, "local: failed to remove %s", path)
	}
	return nil
}

type file struct {
	fs       vfs.FS
	path     string
	f        vfs.File
	pos      int64
	writable bool
	closed   bool
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	if !f.writable {
		return 0, errors.Wrapf(ErrReadOnly, "write to %s", f.path)
	}
	if off != f.pos {
		return 0, errors.Wrapf(ErrNotSequential, "write at %d, file ends at %d", off, f.pos)
	}
	n, err := f.f.Write(p)
	f.pos += int64(n)
	if err != nil {
		return n, errors.Wrapf(err, "local: failed to write %s", f.path)
	}
	return n, nil
}

func (f *file) Size() (int64, error) {
	info, err := f.f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "local: failed to stat %s", f.path)
	}
	return info.Size(), nil
}

func (f *file) Truncate() error {
	if !f.writable {
		return errors.Wrapf(ErrReadOnly, "truncate %s", f.path)
	}
	if err := f.f.Close(); err != nil {
		return errors.Wrapf(err, "local: failed to close %s", f.path)
	}
	nf, err := f.fs.Create(f.path)
	if err != nil {
		f.closed = true
		return errors.Wrapf(err, "local: failed to recreate %s", f.path)
	}
	f.f, f.pos = nf, 0
	return nil
}

// Close syncs a writable file before closing it.
func (f *file) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	var err error
	if f.writable {
		err = f.f.Sync()
	}
	return errors.CombineErrors(err, f.f.Close())
}

func (f *file) Destroy() error {
	err := f.Close()
	if rerr := f.fs.Remove(f.path); rerr != nil && !oserror.IsNotExist(rerr) {
		err = errors.CombineErrors(err, errors.Wrapf(rerr, "local: failed to remove %s", f.path))
	}
	return err
}
