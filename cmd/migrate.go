package cmd

import (
	"github.com/danthegoodman1/rawsync/config"
	"github.com/danthegoodman1/rawsync/migrations"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the sync run log migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				logFailure(err, "error loading config")
				return err
			}

			n, err := migrations.RunMigrations(cfg.DSN())
			if err != nil {
				logFailure(err, "error running migrations")
				return err
			}
			logger.Info().Int("applied", n).Msg("migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Fail when migrations are pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				logFailure(err, "error loading config")
				return err
			}

			if err := migrations.CheckMigrations(cfg.DSN()); err != nil {
				logFailure(err, "error checking migrations")
				return err
			}
			logger.Info().Msg("all migrations applied")
			return nil
		},
	})

	return cmd
}
