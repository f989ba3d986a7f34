// Command jsonkv loads and queries sealed jsonkv files.
//
//	jsonkv load data.json < entries.ndjson
//	jsonkv get data.json some-key
//	jsonkv scan data.json --gte a --lt m
//	jsonkv stat data.json
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/davidvella/jsonkv/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(productionLogger).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger

	newLogger func(config.Config) (*zap.Logger, error)
}

func productionLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	return zc.Build()
}

func newRootCmd(newLogger func(config.Config) (*zap.Logger, error)) *cobra.Command {
	a := &app{newLogger: newLogger}

	root := &cobra.Command{
		Use:          "jsonkv",
		Short:        "Build and query immutable sorted JSON key-value files",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logger, err := a.newLogger(cfg)
			if err != nil {
				return err
			}
			a.logger = logger.With(zap.String("command", cmd.Name()))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML configuration file")

	root.AddCommand(
		newLoadCmd(a),
		newGetCmd(a),
		newScanCmd(a),
		newStatCmd(a),
	)
	return root
}

// path resolves name against the configured directory.
func (a *app) path(name string) string {
	if a.cfg.Dir == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(a.cfg.Dir, name)
}
