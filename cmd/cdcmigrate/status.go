package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cdc_migrator/internal/db"
	"cdc_migrator/internal/status"
)

func statusCmd(a *app) *cobra.Command {
	var (
		offline bool
		sinks   []string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied, modified and pending migration files",
		Long:  "Exit status is 0 when everything is applied, 1 when something is pending and 2 on errors.",
		RunE: func(cmd *cobra.Command, args []string) error {
			reporter := status.NewReporter(db.PgxConnector{}, a.resolver(), a.cfg.MigrationsPath(), a.logger)

			var (
				rep status.Report
				err error
			)
			if offline {
				rep, err = reporter.Offline(sinks...)
			} else {
				rep, err = reporter.Online(context.Background(), a.cfg.Env, sinks...)
			}
			if err != nil {
				return exitWith(2, err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SINK\tFILE\tCATEGORY\tSTATE")
			for _, s := range rep.Sinks {
				if s.ConnErr != nil {
					fmt.Fprintf(w, "%s\t(offline: %v)\t\t\n", s.Name, s.ConnErr)
				}
				for _, e := range s.Entries {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, e.File, e.Category, e.State)
				}
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("flush output: %w", err)
			}
			return exitWith(rep.ExitCode(), nil)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not contact any database")
	cmd.Flags().StringSliceVar(&sinks, "sink", nil, "Only report these sink directories (repeatable)")
	return cmd
}
