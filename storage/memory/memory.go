// Package memory provides an in-memory storage.FS. File contents live in
// sparse fixed-size pages indexed by a B-tree, so a spill file only holds the
// pages that were written.
package memory

import (
	"context"
	"io"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/davidvella/jsonkv/storage"
	"github.com/google/btree"
)

const (
	// PageSize is the granularity at which file contents are allocated.
	PageSize = 4096

	degree = 32
)

var (
	ErrClosed   = errors.New("memory: file is closed")
	ErrReadOnly = errors.New("memory: file is read only")
)

type page struct {
	index int64
	data  [PageSize]byte
}

func lessPage(a, b *page) bool {
	return a.index < b.index
}

type node struct {
	mu    sync.RWMutex
	pages *btree.BTreeG[*page]
	size  int64
}

func newNode() *node {
	return &node{pages: btree.NewG(degree, lessPage)}
}

// Storage is an in-memory storage.FS. The zero value is not usable; call New.
type Storage struct {
	mu    sync.Mutex
	files map[string]*node
}

var _ storage.FS = (*Storage)(nil)

func New() *Storage {
	return &Storage{files: make(map[string]*node)}
}

func (s *Storage) Create(_ context.Context, name string) (storage.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := newNode()
	s.files[name] = n
	return &file{s: s, name: name, n: n}, nil
}

func (s *Storage) Open(_ context.Context, name string) (storage.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.files[name]
	if !ok {
		return nil, errors.Wrapf(oserror.ErrNotExist, "memory: open %s", name)
	}
	return &file{s: s, name: name, n: n, readOnly: true}, nil
}

func (s *Storage) Rename(_ context.Context, oldname, newname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.files[oldname]
	if !ok {
		return errors.Wrapf(oserror.ErrNotExist, "memory: rename %s", oldname)
	}
	delete(s.files, oldname)
	s.files[newname] = n
	return nil
}

func (s *Storage) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[name]; !ok {
		return errors.Wrapf(oserror.ErrNotExist, "memory: remove %s", name)
	}
	delete(s.files, name)
	return nil
}

// List returns the names of all files in sorted order.
func (s *Storage) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// remove drops name only while it still refers to n.
func (s *Storage) remove(name string, n *node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[name] == n {
		delete(s.files, name)
	}
}

type file struct {
	s        *Storage
	name     string
	n        *node
	readOnly bool

	mu     sync.RWMutex
	closed bool
}

func (f *file) isClosed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.closed
}

func (f *file) ReadAt(p []byte, off int64) (int, error) {
	if f.isClosed() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, errors.Newf("memory: negative offset %d", off)
	}

	f.n.mu.RLock()
	defer f.n.mu.RUnlock()

	if off >= f.n.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), f.n.size-off)
	pivot := &page{}
	for done := int64(0); done < want; {
		pos := off + done
		pivot.index = pos / PageSize
		within := pos % PageSize
		chunk := min(want-done, PageSize-within)
		dst := p[done : done+chunk]
		if pg, ok := f.n.pages.Get(pivot); ok {
			copy(dst, pg.data[within:within+chunk])
		} else {
			clear(dst)
		}
		done += chunk
	}
	if want < int64(len(p)) {
		return int(want), io.EOF
	}
	return int(want), nil
}

func (f *file) WriteAt(p []byte, off int64) (int, error) {
	if f.isClosed() {
		return 0, ErrClosed
	}
	if f.readOnly {
		return 0, errors.Wrapf(ErrReadOnly, "write to %s", f.name)
	}
	if off < 0 {
		return 0, errors.Newf("memory: negative offset %d", off)
	}

	f.n.mu.Lock()
	defer f.n.mu.Unlock()

	pivot := &page{}
	for done := 0; done < len(p); {
		pos := off + int64(done)
		pivot.index = pos / PageSize
		within := pos % PageSize
		pg, ok := f.n.pages.Get(pivot)
		if !ok {
			pg = &page{index: pivot.index}
			f.n.pages.ReplaceOrInsert(pg)
		}
		done += copy(pg.data[within:], p[done:])
	}
	f.n.size = max(f.n.size, off+int64(len(p)))
	return len(p), nil
}

func (f *file) Size() (int64, error) {
	if f.isClosed() {
		return 0, ErrClosed
	}
	f.n.mu.RLock()
	defer f.n.mu.RUnlock()
	return f.n.size, nil
}

func (f *file) Truncate() error {
	if f.isClosed() {
		return ErrClosed
	}
	if f.readOnly {
		return errors.Wrapf(ErrReadOnly, "truncate %s", f.name)
	}
	f.n.mu.Lock()
	defer f.n.mu.Unlock()
	f.n.pages.Clear(false)
	f.n.size = 0
	return nil
}

func (f *file) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *file) Destroy() error {
	if err := f.Close(); err != nil {
		return err
	}
	f.s.remove(f.name, f.n)
	return nil
}
