package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zoobzio/probez"
)

func newManifestCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Render an ETW manifest from provider declarations",
		Long: `Render the ETW instrumentation manifest for every provider declared in
the configuration file. The result can be compiled with mc.exe and
registered with wevtutil so ETW consumers can decode probe payloads.`,
		Example: `  probezctl manifest -c probes.yaml
  probezctl manifest -c probes.yaml -o provider.man`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			if len(cfg.Providers) == 0 {
				return errors.New("no providers declared; pass a configuration file with --config")
			}

			providers, err := probez.Declare(cfg,
				probez.WithBackend(probez.NewNoopBackend()),
				probez.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			defer func() {
				for _, p := range providers {
					_ = p.Close()
				}
			}()

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			if err := probez.WriteManifest(w, providers...); err != nil {
				return err
			}
			logger.Debug().Int("providers", len(providers)).Str("output", output).Msg("manifest written")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the manifest to a file instead of stdout")
	return cmd
}
