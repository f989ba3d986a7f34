package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    Config
		wantErr bool
	}{
		{
			name: "empty document",
			yaml: "",
			want: Default(),
		},
		{
			name: "all fields",
			yaml: "dir: /data\nbucket_size: 1024\nbatch_size: 10\ntemp: memory\nlog_level: debug\n",
			want: Config{Dir: "/data", BucketSize: 1024, BatchSize: 10, Temp: TempMemory, LogLevel: "debug"},
		},
		{
			name: "partial keeps defaults",
			yaml: "temp: memory\n",
			want: Config{BucketSize: 65536, BatchSize: 65536, Temp: TempMemory, LogLevel: "info"},
		},
		{name: "zero bucket size", yaml: "bucket_size: 0\n", wantErr: true},
		{name: "negative batch size", yaml: "batch_size: -1\n", wantErr: true},
		{name: "unknown temp", yaml: "temp: s3\n", wantErr: true},
		{name: "unknown level", yaml: "log_level: loud\n", wantErr: true},
		{name: "unknown key", yaml: "buckets: 3\n", wantErr: true},
		{name: "malformed", yaml: "bucket_size: [\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)

	path := filepath.Join(t.TempDir(), "jsonkv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bucket_size: 8\n"), 0o600))
	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, c.BucketSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Config{LogLevel: tt.level}.Level())
	}
}
