package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cdc_migrator/internal/db"
	"cdc_migrator/internal/migrate"
)

func applyCmd(a *app) *cobra.Command {
	var (
		dryRun bool
		sinks  []string
	)
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply pending migration files to every sink target",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner := migrate.New(db.PgxConnector{}, a.resolver(), a.cfg.MigrationsPath(), a.logger)
			res, err := runner.ApplyAll(context.Background(), a.cfg.Env, dryRun, sinks...)
			if err != nil {
				return exitWith(1, err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			if dryRun {
				fmt.Fprintln(w, "SINK\tFILE\tCATEGORY")
				for _, s := range res.Sinks {
					for _, f := range s.Files {
						fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, f.File, f.Category)
					}
				}
			} else {
				fmt.Fprintln(w, "SINK\tAPPLIED\tUPDATED\tSKIPPED\tFAILED\tERROR")
				for _, s := range res.Sinks {
					errText := "-"
					if s.Err != nil {
						errText = s.Err.Error()
					}
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n", s.Name, s.Applied, s.Updated, s.Skipped, s.Failed, errText)
				}
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("flush output: %w", err)
			}
			return exitWith(res.ExitCode(), nil)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List the files that would run without connecting")
	cmd.Flags().StringSliceVar(&sinks, "sink", nil, "Only apply these sink directories (repeatable)")
	return cmd
}
