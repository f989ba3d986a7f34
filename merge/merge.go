package merge

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

// Sequence is a lazy, forward-only source of values. Next returns false once
// the sequence is exhausted; a sequence that returned an error is not called
// again.
type Sequence[E any] interface {
	Next(ctx context.Context) (E, bool, error)
}

// Tree merges sequences that are each sorted by the same comparison. It is
// itself a Sequence and is not safe for concurrent use.
type Tree[E any] struct {
	root    node[E]
	leaves  []*leaf[E]
	primed  bool
	started bool
	err     error
}

var _ Sequence[int] = (*Tree[int])(nil)

// New builds a tree over sequences ordered by compare.
func New[E any](sequences []Sequence[E], compare func(a, b E) int) *Tree[E] {
	t := &Tree[E]{leaves: make([]*leaf[E], len(sequences))}

	level := make([]node[E], len(sequences))
	for i, s := range sequences {
		t.leaves[i] = &leaf[E]{seq: s}
		level[i] = t.leaves[i]
	}

	switch len(level) {
	case 0:
		t.root = &leaf[E]{loaded: true}
		return t
	case 1:
		t.root = level[0]
		return t
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, &leaf[E]{loaded: true})
		}
		next := make([]node[E], 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, &pair[E]{left: level[i], right: level[i+1], compare: compare, from: none})
		}
		level = next
	}
	t.root = level[0]
	return t
}

// Prime pulls the first value of every leaf concurrently. It waits for all
// leaves to settle and returns the first error. Calling Prime again does
// nothing; Next primes the tree on first use.
func (t *Tree[E]) Prime(ctx context.Context) error {
	if t.err != nil {
		return t.err
	}
	if t.primed {
		return nil
	}
	t.primed = true

	var g errgroup.Group
	for _, l := range t.leaves {
		g.Go(func() error {
			_, _, err := l.peek(ctx)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.err = err
		return err
	}
	return nil
}

// Next returns the least remaining value.
func (t *Tree[E]) Next(ctx context.Context) (E, bool, error) {
	var zero E
	if err := t.Prime(ctx); err != nil {
		return zero, false, err
	}
	if t.started {
		t.root.advance()
	}
	t.started = true

	v, ok, err := t.root.peek(ctx)
	if err != nil {
		t.err = err
		return zero, false, err
	}
	return v, ok, nil
}

// All returns an iterator over the values of s. Iteration stops after the
// first error, which is yielded with a zero value.
func All[E any](ctx context.Context, s Sequence[E]) iter.Seq2[E, error] {
	return func(yield func(E, error) bool) {
		for {
			v, ok, err := s.Next(ctx)
			if err != nil {
				var zero E
				yield(zero, err)
				return
			}
			if !ok || !yield(v, nil) {
				return
			}
		}
	}
}

type node[E any] interface {
	// peek returns the current value, pulling it if needed.
	peek(ctx context.Context) (E, bool, error)
	// advance discards the current value.
	advance()
}

type leaf[E any] struct {
	seq    Sequence[E]
	head   E
	ok     bool
	loaded bool
}

func (l *leaf[E]) peek(ctx context.Context) (E, bool, error) {
	if !l.loaded {
		v, ok, err := l.seq.Next(ctx)
		if err != nil {
			return v, false, err
		}
		l.head, l.ok, l.loaded = v, ok, true
	}
	return l.head, l.ok, nil
}

func (l *leaf[E]) advance() {
	if l.ok {
		var zero E
		l.head, l.loaded = zero, false
	}
}

const (
	none = iota
	fromLeft
	fromRight
)

type pair[E any] struct {
	left, right node[E]
	compare     func(a, b E) int

	head   E
	ok     bool
	from   int
	cached bool
}

func (p *pair[E]) peek(ctx context.Context) (E, bool, error) {
	if p.cached {
		return p.head, p.ok, nil
	}

	lv, lok, err := p.left.peek(ctx)
	if err != nil {
		return lv, false, err
	}
	rv, rok, err := p.right.peek(ctx)
	if err != nil {
		return rv, false, err
	}

	switch {
	case lok && (!rok || p.compare(lv, rv) <= 0):
		p.head, p.ok, p.from = lv, true, fromLeft
	case rok:
		p.head, p.ok, p.from = rv, true, fromRight
	default:
		var zero E
		p.head, p.ok, p.from = zero, false, none
	}
	p.cached = true
	return p.head, p.ok, nil
}

func (p *pair[E]) advance() {
	if !p.cached {
		return
	}
	switch p.from {
	case fromLeft:
		p.left.advance()
	case fromRight:
		p.right.advance()
	default:
		return
	}
	p.cached = false
}
