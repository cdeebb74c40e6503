package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danthegoodman1/rawsync/config"
	"github.com/danthegoodman1/rawsync/pipeline"
	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync and exit, non-zero on failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, _ := cmd.Flags().GetString("entity")

			cfg, err := config.Load()
			if err != nil {
				logFailure(err, "error loading config")
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner, err := newRunner(cfg)
			if err != nil {
				logFailure(err, "error setting up sync")
				return err
			}

			res, err := runner.Run(ctx, entity)
			if err != nil {
				logFailure(err, "sync failed")
				return err
			}

			logger.Info().Str("runID", res.RunID).Str("entity", res.Entity).Int64("rowsFetched", res.RowsFetched).Int64("rowsWritten", res.RowsWritten).Dur("took", res.Duration).Msg("sync complete")
			return nil
		},
	}
	cmd.Flags().String("entity", pipeline.Clients.Name, "Entity to sync")
	return cmd
}
