package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/newshub-crawler/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the job control API",
		Long: `Starts the HTTP API, recovers jobs left active by a previous process
and runs scheduled maintenance when enabled. SIGINT or SIGTERM pause or
stop running jobs before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), e.cfg)
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
