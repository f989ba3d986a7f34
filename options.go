package jsonkv

import (
	"github.com/davidvella/jsonkv/bucket"
	"github.com/davidvella/jsonkv/metrics"
	"github.com/davidvella/jsonkv/record"
	"github.com/davidvella/jsonkv/storage"
	"github.com/davidvella/jsonkv/storage/local"
	"go.uber.org/zap"
)

// options defines all configuration options for opening and loading a store.
type options struct {
	compare record.Compare // Order of entries, shared by loader and reader
	fs      storage.FS     // Where sealed files live
	tempFS  storage.FS     // Where spill files live, fs when nil

	bucketSize int // Entries sorted in memory per spill
	batchSize  int // Entries handed to the loader at once by Load

	logger  *zap.Logger
	metrics *metrics.Registry
}

// Option is a function that configures a store.
type Option func(*options)

// WithCompare sets the order of entries. A store must be read with the
// order it was loaded with.
func WithCompare(compare Compare) Option {
	return func(o *options) {
		o.compare = compare
	}
}

// WithFS sets the storage holding sealed files.
func WithFS(fs storage.FS) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithTempFS sets the storage holding spill files while loading.
func WithTempFS(fs storage.FS) Option {
	return func(o *options) {
		o.tempFS = fs
	}
}

// WithBucketSize sets the number of entries sorted in memory per spill.
func WithBucketSize(n int) Option {
	return func(o *options) {
		o.bucketSize = n
	}
}

// WithBatchSize sets the number of entries Load hands to the loader at once.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		compare:    record.ByKey,
		fs:         local.NewLocalStorage(""),
		bucketSize: bucket.DefaultSize,
		batchSize:  bucket.DefaultSize,
		logger:     zap.NewNop(),
	}
}

func newOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.compare == nil {
		o.compare = record.ByKey
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.batchSize <= 0 {
		o.batchSize = bucket.DefaultSize
	}
	return o
}
