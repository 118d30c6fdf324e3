package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zoobzio/probez"
)

type rootOptions struct {
	configPath string
	logLevel   string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "probezctl",
		Short: "Inspect and exercise probez providers",
		Long: `probezctl works with probez provider declarations.

It renders ETW instrumentation manifests from declaration files, reports
which tracing backend this host would use, and runs an in-process demo
session that fires probes and prints what a tracer would observe.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file with provider declarations")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "human-readable log output")

	cmd.AddCommand(newManifestCmd(opts))
	cmd.AddCommand(newDemoCmd(opts))
	cmd.AddCommand(newBackendCmd(opts))

	return cmd
}

// load reads the configuration and builds the logger, letting flags
// override file and environment settings.
func (o *rootOptions) load() (probez.Config, zerolog.Logger, error) {
	cfg, err := probez.LoadConfig(o.configPath)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.pretty {
		cfg.Log.Pretty = true
	}
	return cfg, probez.Init(cfg), nil
}
