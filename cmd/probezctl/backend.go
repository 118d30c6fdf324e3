package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zoobzio/probez"
)

func newBackendCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backend",
		Short: "Show the tracing backend this host selects",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			b, err := probez.OpenBackend(cfg.Backend)
			if err != nil {
				return err
			}
			if c, ok := b.(io.Closer); ok {
				defer c.Close()
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "configured: %s\n", cfg.Backend)
			fmt.Fprintf(out, "selected:   %s\n", b.Name())
			return nil
		},
	}
}
