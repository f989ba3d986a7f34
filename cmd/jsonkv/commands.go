package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/davidvella/jsonkv"
	"github.com/davidvella/jsonkv/config"
	"github.com/davidvella/jsonkv/record"
	"github.com/davidvella/jsonkv/storage/memory"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newLoadCmd(a *app) *cobra.Command {
	var (
		input      string
		bucketSize int
		temp       string
	)
	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Bulk load newline-delimited JSON entries into a sealed file",
		Long: `Reads one {"key": ..., "value": ...} object per line from stdin, or from
--input, and writes them to a new sealed file. An existing file is only
replaced once the load succeeds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("bucket-size") {
				cfg.BucketSize = bucketSize
			}
			if cmd.Flags().Changed("temp") {
				cfg.Temp = temp
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if input != "" {
				f, err := os.Open(input)
				if err != nil {
					return errors.Wrap(err, "load: failed to open input")
				}
				defer f.Close()
				in = f
			}

			opts := []jsonkv.Option{
				jsonkv.WithBucketSize(cfg.BucketSize),
				jsonkv.WithBatchSize(cfg.BatchSize),
				jsonkv.WithLogger(a.logger),
			}
			if cfg.Temp == config.TempMemory {
				opts = append(opts, jsonkv.WithTempFS(memory.New()))
			}
			return load(cmd, a.path(args[0]), in, cfg.BatchSize, opts...)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "read entries from this file instead of stdin")
	cmd.Flags().IntVar(&bucketSize, "bucket-size", 0, "entries sorted in memory per spill")
	cmd.Flags().StringVar(&temp, "temp", "", "where spill files live: disk or memory")
	return cmd
}

func load(cmd *cobra.Command, path string, in io.Reader, batchSize int, opts ...jsonkv.Option) error {
	ctx := cmd.Context()
	w, err := jsonkv.Create(ctx, path, opts...)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(in)
	batch := make([]jsonkv.Entry, 0, min(batchSize, 4096))
	for n := 1; ; n++ {
		var e jsonkv.Entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			err = errors.Wrapf(err, "load: entry %d", n)
			return errors.CombineErrors(err, w.Abort(ctx))
		}
		batch = append(batch, e)
		if len(batch) == batchSize {
			if err := w.Write(ctx, batch...); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := w.Write(ctx, batch...); err != nil {
		return err
	}
	if err := w.Close(ctx); err != nil {
		return err
	}

	stats := w.Stats()
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "loaded %d entries into %s (valueSize %d, %d bytes)\n",
		stats.Entries, path, stats.ValueSize, stats.Bytes)
	return err
}

func newGetCmd(a *app) *cobra.Command {
	var closest bool
	cmd := &cobra.Command{
		Use:   "get <file> <key>",
		Short: "Print the entry stored under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			var opts []jsonkv.GetOption
			if closest {
				opts = append(opts, jsonkv.WithClosest())
			}
			e, err := db.Get(cmd.Context(), args[1], opts...)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(e)
		},
	}
	cmd.Flags().BoolVar(&closest, "closest", false, "print the nearest entry examined when the key is absent")
	return cmd
}

func newScanCmd(a *app) *cobra.Command {
	var (
		gt, gte, lt, lte string
		limit            int
	)
	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Print the entries within a key range as newline-delimited JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rng jsonkv.Range
			flags := cmd.Flags()
			if flags.Changed("gt") {
				rng.GT = jsonkv.Key(gt)
			}
			if flags.Changed("gte") {
				rng.GTE = jsonkv.Key(gte)
			}
			if flags.Changed("lt") {
				rng.LT = jsonkv.Key(lt)
			}
			if flags.Changed("lte") {
				rng.LTE = jsonkv.Key(lte)
			}

			db, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			for e, err := range db.All(cmd.Context(), rng) {
				if err != nil {
					return err
				}
				if err := enc.Encode(e); err != nil {
					return err
				}
				n++
				if limit > 0 && n == limit {
					break
				}
			}
			a.logger.Debug("scanned", zap.Int("entries", n))
			return nil
		},
	}
	cmd.Flags().StringVar(&gt, "gt", "", "only keys greater than this")
	cmd.Flags().StringVar(&gte, "gte", "", "only keys greater than or equal to this")
	cmd.Flags().StringVar(&lt, "lt", "", "only keys less than this")
	cmd.Flags().StringVar(&lte, "lte", "", "only keys less than or equal to this")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many entries, 0 for no limit")
	return cmd
}

func newStatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <file>",
		Short: "Print the header of a sealed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			valueSize, err := db.ValueSize(ctx)
			if err != nil {
				return err
			}
			length, err := db.Len(ctx)
			if err != nil {
				return err
			}
			h := record.Header{ValueSize: valueSize, Length: length}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "valueSize: %d\nlength: %d\nstride: %d\n",
				h.ValueSize, h.Length, h.Stride())
			return err
		},
	}
}

func (a *app) open(name string) (*jsonkv.DB, error) {
	return jsonkv.Open(a.path(name), jsonkv.WithLogger(a.logger))
}
