package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cdc_migrator/internal/diff"
)

func diffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <service>",
		Short: "Compare generated files with the current configuration",
		Long:  "Exit status is 0 without changes, 1 with changes and 2 on errors.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := diff.NewEngine(a.project, a.cfg.MigrationsPath(), a.logger)
			res, err := engine.Diff(context.Background(), args[0])
			if err != nil {
				return exitWith(2, err)
			}
			fmt.Println(diff.Describe(res))
			return exitWith(res.ExitCode(), nil)
		},
	}
}
