package main

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/zoobzio/probez"
)

type demoOptions struct {
	count  int
	asJSON bool
}

// demoRecord is the JSON line printed per observed record.
type demoRecord struct {
	probez.Record
	Args []any `json:"args"`
}

func newDemoCmd(root *rootOptions) *cobra.Command {
	opts := &demoOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Fire probes into an in-process session and print the records",
		Long: `Create provider "app" with probes "req" (uint32, char *) and "payload"
(json), attach an in-process session, fire each probe --count times, then
detach and fire again to show that a detached probe records nothing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := root.load()
			if err != nil {
				return err
			}

			session := probez.NewSession()
			session.SetSyncMode(true)
			defer session.Close()

			provider, err := probez.NewProvider("app",
				probez.WithModule("probezctl"),
				probez.WithBackend(session),
				probez.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			defer provider.Close()

			req, err := provider.CreateProbe("req", "uint32", "char *")
			if err != nil {
				return err
			}
			payload, err := provider.CreateProbe("payload", "json")
			if err != nil {
				return err
			}

			session.Attach("app", probez.Wildcard)
			if err := provider.Enable(); err != nil {
				return err
			}

			for i := 0; i < opts.count; i++ {
				status := uint64(200 + i)
				if err := req.Fire(func() []probez.Value {
					return probez.Args(probez.Uint(status), probez.Str("ok"))
				}); err != nil {
					return err
				}
				if err := payload.Fire(func() []probez.Value {
					return probez.Args(probez.JSON(probez.Fields{
						probez.F("foo", 42),
						probez.F("bar", "forty-two"),
					}))
				}); err != nil {
					return err
				}
			}

			session.DetachAll()
			if err := req.Fire(func() []probez.Value {
				return probez.Args(probez.Uint(500), probez.Str("unseen"))
			}); err != nil {
				return err
			}

			for _, rec := range session.Export() {
				if err := printRecord(cmd, rec, opts.asJSON); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.count, "count", "n", 1, "number of times to fire each probe")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print records as JSON lines")
	return cmd
}

func printRecord(cmd *cobra.Command, rec probez.Record, asJSON bool) error {
	args := make([]any, rec.Len())
	for i, s := range rec.Slots {
		switch s.Type.Kind {
		case probez.KindSigned:
			args[i] = s.Int()
		case probez.KindUnsigned:
			args[i] = s.Uint()
		case probez.KindStructured:
			args[i] = json.RawMessage(s.String())
		default:
			args[i] = s.String()
		}
	}

	if asJSON {
		line, err := json.Marshal(demoRecord{Record: rec, Args: args})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(line))
		return err
	}

	parts := make([]string, len(args))
	for i, a := range args {
		if raw, ok := a.(json.RawMessage); ok {
			parts[i] = string(raw)
		} else {
			parts[i] = fmt.Sprint(a)
		}
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%4d %s.%s(%s)\n", rec.Seq, rec.Provider, rec.Probe, strings.Join(parts, ", "))
	return err
}
