package loader_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/davidvella/jsonkv/loader"
	"github.com/davidvella/jsonkv/metrics"
	"github.com/davidvella/jsonkv/record"
	"github.com/davidvella/jsonkv/storage"
	"github.com/davidvella/jsonkv/storage/memory"
	"github.com/davidvella/jsonkv/table"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const name = "db.json"

func entry(key string, value any) record.Entry {
	b, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return record.Entry{Key: key, Value: b}
}

func load(t *testing.T, fs storage.FS, opts loader.Options, entries ...record.Entry) *loader.Loader {
	t.Helper()
	ctx := context.Background()
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	l, err := loader.New(ctx, fs, name, opts)
	require.NoError(t, err)
	require.NoError(t, l.Write(ctx, entries...))
	require.NoError(t, l.Close(ctx))
	assert.Equal(t, loader.Done, l.State())
	return l
}

func scan(t *testing.T, fs storage.FS) []record.Entry {
	t.Helper()
	f, err := fs.Open(context.Background(), name)
	require.NoError(t, err)
	r := table.NewReader(f, nil)
	defer r.Close()

	var out []record.Entry
	it := r.Iterate(table.Range{})
	for {
		e, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func keys(entries []record.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Key
	}
	return out
}

func TestLoader_Scenario(t *testing.T) {
	fs := memory.New()
	load(t, fs, loader.Options{}, entry("b", 1), entry("a", 2), entry("c", 3))
	assert.Equal(t, []string{name}, fs.List())

	f, err := fs.Open(context.Background(), name)
	require.NoError(t, err)
	r := table.NewReader(f, nil)
	n, err := r.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, ok, err := r.Get(context.Background(), record.Entry{Key: "a"}, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `2`, string(res.Entry.Value))

	it := r.Iterate(table.Range{GTE: record.Key("b")})
	var got []string
	for {
		e, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, e.Key+"="+string(e.Value))
	}
	assert.Equal(t, []string{"b=1", "c=3"}, got)
}

func TestLoader_BucketThresholds(t *testing.T) {
	const size = 4
	tests := []struct {
		name     string
		count    int
		wantLens []int
	}{
		{name: "no entries", count: 0, wantLens: []int{}},
		{name: "partial bucket", count: 3, wantLens: []int{3}},
		{name: "exactly one bucket", count: size, wantLens: []int{4}},
		{name: "exactly two buckets", count: 2 * size, wantLens: []int{4, 4}},
		{name: "one past two buckets", count: 2*size + 1, wantLens: []int{4, 4, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := make([]record.Entry, tt.count)
			for i := range entries {
				entries[i] = entry(fmt.Sprintf("k%03d", (i*7)%tt.count), i)
			}

			fs := memory.New()
			l := load(t, fs, loader.Options{BucketSize: size}, entries...)

			stats := l.Stats()
			lens := make([]int, len(stats.Buckets))
			var next int64
			for i, b := range stats.Buckets {
				lens[i] = b.Len
				assert.Equal(t, next, b.Start, "bucket %d is not contiguous", i)
				assert.EqualValues(t, b.Len*b.ValueSize, b.End-b.Start)
				next = b.End
			}
			assert.Equal(t, tt.wantLens, lens)
			assert.Equal(t, tt.count, stats.Entries)

			got := scan(t, fs)
			require.Len(t, got, tt.count)
			for i := 1; i < len(got); i++ {
				assert.Less(t, got[i-1].Key, got[i].Key)
			}
		})
	}
}

func TestLoader_TwoHundredThousand(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large load in short mode")
	}
	const n = 200000

	rng := rand.New(rand.NewPCG(1, 2))
	perm := rng.Perm(n)

	fs := memory.New()
	ctx := context.Background()
	l, err := loader.New(ctx, fs, name, loader.Options{})
	require.NoError(t, err)

	// Feed the loader in uneven batches.
	for start := 0; start < n; {
		end := min(n, start+1+rng.IntN(40000))
		batch := make([]record.Entry, 0, end-start)
		for _, i := range perm[start:end] {
			batch = append(batch, record.Entry{Key: fmt.Sprintf("key-%06d", i)})
		}
		require.NoError(t, l.Write(ctx, batch...))
		start = end
	}
	require.NoError(t, l.Close(ctx))

	var lens []int
	for _, b := range l.Stats().Buckets {
		lens = append(lens, b.Len)
	}
	assert.Equal(t, []int{65536, 65536, 65536, 3392}, lens)

	got := scan(t, fs)
	require.Len(t, got, n)
	for i, e := range got {
		if e.Key != fmt.Sprintf("key-%06d", i) {
			t.Fatalf("entry %d has key %s", i, e.Key)
		}
	}
}

func TestLoader_Deterministic(t *testing.T) {
	entries := []record.Entry{
		entry("delta", map[string]int{"x": 1}),
		entry("alpha", []string{"a", "b"}),
		entry("charlie", nil),
		entry("bravo", "a longer string value"),
		entry("echo", 5),
	}
	contents := func(batches ...int) string {
		fs := memory.New()
		ctx := context.Background()
		l, err := loader.New(ctx, fs, name, loader.Options{BucketSize: 2})
		require.NoError(t, err)
		rest := entries
		for _, n := range batches {
			require.NoError(t, l.Write(ctx, rest[:n]...))
			rest = rest[n:]
		}
		require.NoError(t, l.Close(ctx))

		f, err := fs.Open(ctx, name)
		require.NoError(t, err)
		size, err := f.Size()
		require.NoError(t, err)
		buf := make([]byte, size)
		require.NoError(t, storage.ReadFull(f, buf, 0))
		return string(buf)
	}

	want := contents(5)
	assert.Equal(t, want, contents(1, 1, 1, 1, 1))
	assert.Equal(t, want, contents(3, 0, 2))
	assert.True(t, strings.HasSuffix(want, record.Footer))
}

func TestLoader_ReplacesTarget(t *testing.T) {
	ctx := context.Background()
	fs := memory.New()
	old, err := fs.Create(ctx, name)
	require.NoError(t, err)
	_, err = old.WriteAt([]byte("previous contents"), 0)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	load(t, fs, loader.Options{}, entry("a", 1))
	assert.Equal(t, []string{"a"}, keys(scan(t, fs)))
}

func TestLoader_SeparateTempFS(t *testing.T) {
	fs, temp := memory.New(), memory.New()
	load(t, fs, loader.Options{TempFS: temp, BucketSize: 2}, entry("b", 1), entry("a", 2), entry("c", 3))
	assert.Equal(t, []string{name}, fs.List())
	assert.Empty(t, temp.List())
	assert.Equal(t, []string{"a", "b", "c"}, keys(scan(t, fs)))
}

func TestLoader_CustomCompare(t *testing.T) {
	desc := func(a, b record.Entry) int { return record.ByKey(b, a) }
	fs := memory.New()
	load(t, fs, loader.Options{Compare: desc, BucketSize: 2}, entry("b", 1), entry("a", 2), entry("d", 3), entry("c", 4))

	f, err := fs.Open(context.Background(), name)
	require.NoError(t, err)
	r := table.NewReader(f, desc)
	res, ok, err := r.Get(context.Background(), record.Entry{Key: "c"}, false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, res.Index)
}

// faultyFS fails writes to the named file.
type faultyFS struct {
	storage.FS
	name string
	err  error
}

func (f *faultyFS) Create(ctx context.Context, name string) (storage.File, error) {
	file, err := f.FS.Create(ctx, name)
	if err != nil || name != f.name {
		return file, err
	}
	return &faultyFile{File: file, err: f.err}, nil
}

type faultyFile struct {
	storage.File
	err error
}

func (f *faultyFile) WriteAt([]byte, int64) (int, error) { return 0, f.err }

func TestLoader_Failure(t *testing.T) {
	errDisk := errors.New("disk on fire")

	tests := []struct {
		name    string
		failing string
		count   int
	}{
		{name: "spill fails during write", failing: loader.TempName(name), count: 3},
		{name: "spill fails during close", failing: loader.TempName(name), count: 1},
		{name: "sealing fails", failing: loader.SealName(name), count: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := memory.New()
			fs := &faultyFS{FS: mem, name: tt.failing, err: errDisk}
			reg := metrics.NewRegistry(nil)

			l, err := loader.New(ctx, fs, name, loader.Options{BucketSize: 2, Metrics: reg, Logger: zaptest.NewLogger(t)})
			require.NoError(t, err)

			entries := make([]record.Entry, tt.count)
			for i := range entries {
				entries[i] = entry(fmt.Sprint(i), i)
			}
			err = l.Write(ctx, entries...)
			if err == nil {
				err = l.Close(ctx)
			}
			assert.True(t, errors.Is(err, errDisk), "got %v", err)
			assert.Equal(t, loader.Failed, l.State())
			assert.Empty(t, mem.List())
			assert.InDelta(t, 1, testutil.ToFloat64(reg.LoadsTotal.WithLabelValues(metrics.ResultFailure)), 0)

			assert.True(t, errors.Is(l.Write(ctx, entry("x", 1)), loader.ErrInvalidState))
			assert.True(t, errors.Is(l.Close(ctx), loader.ErrInvalidState))
			assert.NoError(t, l.Abort(ctx))
		})
	}
}

func TestLoader_FailureKeepsTarget(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	load(t, mem, loader.Options{}, entry("old", 1))

	fs := &faultyFS{FS: mem, name: loader.SealName(name), err: errors.New("boom")}
	l, err := loader.New(ctx, fs, name, loader.Options{})
	require.NoError(t, err)
	require.NoError(t, l.Write(ctx, entry("new", 1)))
	assert.Error(t, l.Close(ctx))

	assert.Equal(t, []string{name}, mem.List())
	assert.Equal(t, []string{"old"}, keys(scan(t, mem)))
}

func TestLoader_InvalidValue(t *testing.T) {
	ctx := context.Background()
	fs := memory.New()
	l, err := loader.New(ctx, fs, name, loader.Options{})
	require.NoError(t, err)
	require.NoError(t, l.Write(ctx, record.Entry{Key: "a", Value: json.RawMessage(`{`)}))
	assert.Error(t, l.Close(ctx))
	assert.Equal(t, loader.Failed, l.State())
	assert.Empty(t, fs.List())
}

func TestLoader_InvalidKey(t *testing.T) {
	ctx := context.Background()
	fs := memory.New()
	l, err := loader.New(ctx, fs, name, loader.Options{})
	require.NoError(t, err)

	err = l.Write(ctx, entry("\ufffe", 1), entry("\xff", 2), entry("\xfe", 3))
	assert.True(t, errors.Is(err, record.ErrInvalidRecord), "got %v", err)
	assert.Equal(t, loader.Failed, l.State())
	assert.Empty(t, fs.List())
}

func TestLoader_Cancelled(t *testing.T) {
	fs := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	l, err := loader.New(ctx, fs, name, loader.Options{})
	require.NoError(t, err)
	require.NoError(t, l.Write(ctx, entry("a", 1)))

	cancel()
	err = l.Write(ctx, entry("b", 2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, loader.Failed, l.State())
	assert.Empty(t, fs.List())
}

func TestLoader_CancelledWhileSealing(t *testing.T) {
	fs := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	l, err := loader.New(ctx, fs, name, loader.Options{})
	require.NoError(t, err)
	require.NoError(t, l.Write(ctx, entry("a", 1)))

	cancel()
	assert.ErrorIs(t, l.Close(ctx), context.Canceled)
	assert.Empty(t, fs.List())
}

func TestLoader_Abort(t *testing.T) {
	ctx := context.Background()
	fs := memory.New()
	reg := metrics.NewRegistry(nil)
	l, err := loader.New(ctx, fs, name, loader.Options{BucketSize: 2, Metrics: reg})
	require.NoError(t, err)
	require.NoError(t, l.Write(ctx, entry("b", 1), entry("a", 2), entry("c", 3)))
	assert.Equal(t, []string{loader.TempName(name)}, fs.List())

	require.NoError(t, l.Abort(ctx))
	assert.Equal(t, loader.Failed, l.State())
	assert.Empty(t, fs.List())
	assert.NoError(t, l.Abort(ctx))
	assert.True(t, errors.Is(l.Close(ctx), loader.ErrInvalidState))
	assert.InDelta(t, 1, testutil.ToFloat64(reg.LoadsTotal.WithLabelValues(metrics.ResultAborted)), 0)

	done := load(t, memory.New(), loader.Options{}, entry("a", 1))
	assert.True(t, errors.Is(done.Abort(ctx), loader.ErrInvalidState))
	assert.True(t, errors.Is(done.Write(ctx, entry("b", 1)), loader.ErrInvalidState))
}

func TestLoader_MetricsAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	reg := metrics.NewRegistry(nil)
	fs := memory.New()

	l := load(t, fs, loader.Options{BucketSize: 2, Metrics: reg, Logger: zap.New(core)},
		entry("b", 1), entry("a", 2), entry("c", 3))

	assert.InDelta(t, 1, testutil.ToFloat64(reg.LoadsTotal.WithLabelValues(metrics.ResultSuccess)), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(reg.BucketsFlushedTotal), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(reg.LoadedEntriesTotal), 0)
	assert.InDelta(t, float64(l.Stats().Bytes), testutil.ToFloat64(reg.SealedBytesTotal), 0)

	assert.Equal(t, 2, logs.FilterMessage("bucket flushed").Len())
	complete := logs.FilterMessage("load complete").All()
	require.Len(t, complete, 1)
	assert.Equal(t, "loader", complete[0].LoggerName)
	assert.EqualValues(t, 3, complete[0].ContextMap()["entries"])
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state loader.State
		want  string
	}{
		{loader.Ingesting, "ingesting"},
		{loader.Merging, "merging"},
		{loader.Sealing, "sealing"},
		{loader.Done, "done"},
		{loader.Failed, "failed"},
		{loader.State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
