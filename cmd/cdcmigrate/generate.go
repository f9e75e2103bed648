package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cdc_migrator/internal/generate"
)

func generateCmd(a *app) *cobra.Command {
	var accept []string
	cmd := &cobra.Command{
		Use:   "generate <service> [service...]",
		Short: "Render migration files for one or more services",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			gen := generate.NewGenerator(a.project, a.cfg.MigrationsPath(), a.logger).WithAccepted(accept...)

			for _, service := range args {
				res, err := gen.GenerateService(ctx, service)
				if err != nil {
					return exitWith(1, fmt.Errorf("generate %s: %w", service, err))
				}
				for _, s := range res.Sinks {
					fmt.Printf("%s/%s: %d written, %d unchanged\n", service, s.SinkName, len(s.Written), len(s.Unchanged))
					for _, m := range s.Manual {
						fmt.Printf("  MANUAL REQUIRED: %s\n", m)
					}
					for _, m := range s.Accepted {
						fmt.Printf("  accepted: %s\n", m)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&accept, "accept-manual", nil,
		"Tables (name or schema.name) whose manual migration has been run; their DDL adopts the new definition")
	return cmd
}
