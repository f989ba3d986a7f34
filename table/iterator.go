package table

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/davidvella/jsonkv/record"
	"github.com/davidvella/jsonkv/storage"
)

// Range bounds an iteration. Nil bounds are open. When a strict and an
// inclusive bound are both set on the same side the strict one applies.
type Range struct {
	GT, GTE *record.Entry
	LT, LTE *record.Entry
}

func (rng Range) lower() (*record.Entry, bool) {
	if rng.GT != nil {
		return rng.GT, true
	}
	return rng.GTE, false
}

func (rng Range) upper() (*record.Entry, bool) {
	if rng.LT != nil {
		return rng.LT, true
	}
	return rng.LTE, false
}

// Iterator walks a range of a sealed file in order.
type Iterator struct {
	r   *Reader
	rng Range

	started   bool
	done      bool
	err       error
	offset    int64
	remaining int

	block []byte
	pos   int
}

// Iterate returns an iterator over the entries within rng. Nothing is read
// until the first call to Next.
func (r *Reader) Iterate(rng Range) *Iterator {
	return &Iterator{r: r, rng: rng}
}

// Next returns the next entry in range. It reports false once the file is
// exhausted or an entry lies past the upper bound. Errors are sticky.
func (it *Iterator) Next(ctx context.Context) (record.Entry, bool, error) {
	if it.err != nil {
		return record.Entry{}, false, it.err
	}
	if it.done {
		return record.Entry{}, false, nil
	}
	e, ok, err := it.next(ctx)
	if err != nil {
		it.err = err
		return record.Entry{}, false, err
	}
	if !ok {
		it.done = true
		it.block = nil
	}
	return e, ok, nil
}

func (it *Iterator) next(ctx context.Context) (record.Entry, bool, error) {
	if !it.started {
		if err := it.seek(ctx); err != nil {
			return record.Entry{}, false, err
		}
		it.started = true
	}

	if it.pos >= len(it.block) {
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

	stride := int(it.r.stride)
	e, err := record.Decode(it.block[it.pos : it.pos+stride])
	if err != nil {
		return record.Entry{}, false, err
	}
	it.pos += stride

	if bound, strict := it.rng.upper(); bound != nil {
		c := it.r.compare(e, *bound)
		if c > 0 || (strict && c == 0) {
			return record.Entry{}, false, nil
		}
	}
	return e, true, nil
}

// seek positions the iterator on the first entry satisfying the lower bound.
// The closest entry found by Get may sit on either side of that position, so
// the search steps back over preceding entries inside the bound and then
// forward past entries outside it.
func (it *Iterator) seek(ctx context.Context) error {
	r := it.r
	if err := r.Open(); err != nil {
		return err
	}
	n := r.header.Length

	start := 0
	if bound, strict := it.rng.lower(); bound != nil && n > 0 {
		res, _, err := r.Get(ctx, *bound, true)
		if err != nil {
			return err
		}
		within := func(e record.Entry) bool {
			c := r.compare(e, *bound)
			return c > 0 || (!strict && c == 0)
		}

		slot := make([]byte, r.stride)
		start = res.Index
		for start > 0 {
			e, err := r.entryAt(slot, start-1)
			if err != nil {
				return err
			}
			if !within(e) {
				break
			}
			start--
		}
		for start < n {
			e, err := r.entryAt(slot, start)
			if err != nil {
				return err
			}
			if within(e) {
				break
			}
			start++
		}
	}

	it.offset = r.offset(start)
	it.remaining = n - start
	return nil
}

func (it *Iterator) fill() error {
	count := min(it.remaining, blockSize(it.r.stride))
	size := int64(count) * it.r.stride
	if int64(cap(it.block)) < size {
		it.block = make([]byte, size)
	}
	it.block = it.block[:size]
	if err := storage.ReadFull(it.r.file, it.block, it.offset); err != nil {
		return errors.Wrapf(err, "table: failed to read block at %d", it.offset)
	}
	it.offset += size
	it.remaining -= count
	it.pos = 0
	return nil
}
