// Command rwlockstress hammers a single encsync.RWLock with readers and
// writers and fails if it ever observes a broken exclusion guarantee.
package main

import (
	"context"
	"os"

	"github.com/go-faster/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := defaultConfig()
	var dev bool

	cmd := &cobra.Command{
		Use:           "rwlockstress",
		Short:         "Stress an encsync.RWLock and verify reader/writer exclusion",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(dev)
			if err != nil {
				return errors.Wrap(err, "create logger")
			}
			defer func() { _ = logger.Sync() }()

			if err := cfg.validate(); err != nil {
				logger.Error("invalid configuration", zap.Error(err))
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
			defer cancel()

			res, err := run(ctx, cfg)
			if err != nil {
				logger.Error("stress run failed", append(res.fields(), zap.Error(err))...)
				return err
			}
			logger.Info("stress run passed", res.fields()...)
			return nil
		},
	}

	cfg.bindFlags(cmd.Flags())
	cmd.Flags().BoolVar(&dev, "dev", false, "human readable development logging")
	return cmd
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
