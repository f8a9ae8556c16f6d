package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/clock/system"
	"github.com/JakeFAU/newshub-crawler/internal/id/uuid"
	"github.com/JakeFAU/newshub-crawler/internal/seed"
	"github.com/JakeFAU/newshub-crawler/internal/server"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Upsert websites and categories from a YAML file",
		Long: `Reads a websites file and upserts each website by base URL, adding
categories it does not have yet. Running it twice changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open seed file: %w", err)
			}
			defer func() { _ = f.Close() }()
			file, err := seed.Parse(f)
			if err != nil {
				return err
			}

			st, err := server.OpenStorage(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			loader := seed.NewLoader(st.Repos.Websites, uuid.New(), system.New(), e.logger)
			res, err := loader.Apply(cmd.Context(), file)
			if err != nil {
				return err
			}
			e.logger.Info("seed applied",
				zap.Int("websites_created", res.WebsitesCreated),
				zap.Int("websites_updated", res.WebsitesUpdated),
				zap.Int("categories_created", res.CategoriesCreated),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "websites: %d created, %d updated; categories: %d created\n",
				res.WebsitesCreated, res.WebsitesUpdated, res.CategoriesCreated)
			return nil
		},
	}
}
