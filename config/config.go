// Package config loads the YAML configuration of the jsonkv command.
//
//	dir: /var/lib/jsonkv
//	bucket_size: 65536
//	batch_size: 65536
//	temp: disk
//	log_level: info
//
// Missing keys keep their defaults.
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/davidvella/jsonkv/bucket"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Temporary storage kinds.
const (
	TempDisk   = "disk"
	TempMemory = "memory"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

var validate = validator.New()

// Config holds the settings of the jsonkv command.
type Config struct {
	// Dir resolves relative database paths. Empty means the working
	// directory.
	Dir string `yaml:"dir"`
	// BucketSize is the number of entries sorted in memory per spill.
	BucketSize int `yaml:"bucket_size" validate:"min=1"`
	// BatchSize is the number of entries handed to the loader at once.
	BatchSize int `yaml:"batch_size" validate:"min=1"`
	// Temp selects where spill files live.
	Temp string `yaml:"temp" validate:"oneof=disk memory"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		BucketSize: bucket.DefaultSize,
		BatchSize:  bucket.DefaultSize,
		Temp:       TempDisk,
		LogLevel:   "info",
	}
}

// Load reads the configuration at path. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: failed to read %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config: %s", path)
	}
	return c, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Mark(errors.Wrap(err, "config: failed to decode"), ErrInvalidConfig)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return errors.Wrapf(ErrInvalidConfig, "%s fails %q (got %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return nil
}

// Level returns the zap level named by LogLevel.
func (c Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
