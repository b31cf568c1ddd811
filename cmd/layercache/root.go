package main

import (
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-layered-cache/pkg/di"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "layercache",
		Short:        "Read and write entities through local, distributed and backing tiers",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("LAYERCACHE_CONFIG"), "YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newPutCmd(opts),
		newGetCmd(opts),
		newDeleteCmd(opts),
		newQueryCmd(opts),
	)
	return cmd
}

// logger writes human readable logs to the command's stderr.
func (o *rootOptions) logger(cmd *cobra.Command) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(o.logLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen, NoColor: true}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// open loads the config and builds a container for one command run. The
// caller must Close it.
func (o *rootOptions) open(cmd *cobra.Command, kinds ...string) (*di.Container, zerolog.Logger, error) {
	logger := o.logger(cmd)

	cfg, err := di.LoadConfig(o.configPath)
	if err != nil {
		return nil, logger, err
	}

	container, err := di.NewContainer(cfg, di.WithLogger(logger))
	if err != nil {
		return nil, logger, err
	}
	registerKinds(container.Codec(), kinds...)
	return container, logger, nil
}
