package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danthegoodman1/rawsync/config"
	"github.com/danthegoodman1/rawsync/http_server"
	"github.com/danthegoodman1/rawsync/pipeline"
	"github.com/danthegoodman1/rawsync/scheduler"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync HTTP API and run the optional cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Debug().Msg("starting rawsync server")

			cfg, err := config.Load()
			if err != nil {
				logFailure(err, "error loading config")
				return err
			}

			runner, err := newRunner(cfg)
			if err != nil {
				logFailure(err, "error setting up sync")
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var sched *scheduler.Scheduler
			if cfg.ScheduleEnabled() {
				sched, err = scheduler.New(ctx, cfg.SyncSchedule, pipeline.EntityNames(), runner.Run)
				if err != nil {
					logFailure(err, "error creating scheduler")
					return err
				}
				sched.Start()
			}

			httpServer, serveErrs, err := http_server.StartHTTPServer(cfg.HTTPPort, runner)
			if err != nil {
				logFailure(err, "error starting HTTP server")
				return err
			}

			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			select {
			case <-c:
				logger.Warn().Msg("received shutdown signal!")
			case err := <-serveErrs:
				if err != nil {
					return err
				}
			}

			// For AWS ALB needing some time to de-register pod
			sleepTime := cfg.ShutdownSleepSec
			logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

			time.Sleep(time.Second * time.Duration(sleepTime))
			logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

			if sched != nil {
				// cancels in-flight cron runs, then waits for them
				<-sched.Stop().Done()
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*10)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("failed to shutdown HTTP server")
			} else {
				logger.Info().Msg("successfully shutdown HTTP server")
			}

			// wait for runs started over HTTP
			runner.Wait(shutdownCtx)
			return nil
		},
	}
}
