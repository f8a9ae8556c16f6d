package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	pgstore "github.com/JakeFAU/newshub-crawler/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the Postgres schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(pgstore.Up), string(pgstore.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			if e.cfg.DB.DSN == "" {
				return errors.New("db.dsn is required to migrate")
			}
			direction := pgstore.Direction(args[0])
			if err := pgstore.Migrate(e.cfg.DB.DSN, direction); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			e.logger.Info("migrations applied", zap.String("direction", string(direction)))
			return nil
		},
	}
}
