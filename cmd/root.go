package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/danthegoodman1/rawsync/archive"
	"github.com/danthegoodman1/rawsync/config"
	"github.com/danthegoodman1/rawsync/crdb"
	"github.com/danthegoodman1/rawsync/fetcher"
	"github.com/danthegoodman1/rawsync/gologger"
	"github.com/danthegoodman1/rawsync/migrations"
	"github.com/danthegoodman1/rawsync/pipeline"
	"github.com/danthegoodman1/rawsync/s3_helper"
	"github.com/danthegoodman1/rawsync/schema_manager"
	"github.com/danthegoodman1/rawsync/upsert"
	"github.com/danthegoodman1/rawsync/utils"
	"github.com/jackc/pgconn"
	"github.com/spf13/cobra"
)

var logger = gologger.NewLogger()

func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rawsync",
		Short:         "Replicates VisualCare records into raw Postgres tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(syncCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	return root
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		TargetSchema: cfg.TargetSchema,
		Schema: schema_manager.Options{
			PrimaryKeyMode: schema_manager.PrimaryKeyMode(cfg.PrimaryKeyMode),
			Retry:          cfg.DBCRDBRetry,
		},
		Upsert: upsert.Options{
			PageSize: cfg.UpsertPageSize,
			Retry:    cfg.DBCRDBRetry,
		},
		RunLog: cfg.RunLogEnabled,
	}
}

// newRunner wires the fetcher, the optional archive and the connection factory.
// With the run log enabled its migrations are applied first.
func newRunner(cfg *config.Config) (*pipeline.Runner, error) {
	if cfg.RunLogEnabled {
		if _, err := migrations.RunMigrations(cfg.DSN()); err != nil {
			return nil, err
		}
	}

	p := &pipeline.Pipeline{
		Source: fetcher.NewClient(cfg.VCBaseURL, fetcher.Credentials{
			User:   cfg.VCUser,
			Key:    cfg.VCKey,
			Secret: cfg.VCSecret,
		}, cfg.VCTimeout),
		Options: pipelineOptions(cfg),
	}

	if cfg.ArchiveEnabled() {
		s3Client, err := s3_helper.NewClient(s3_helper.Config{
			Bucket:   cfg.ArchiveS3Bucket,
			Endpoint: cfg.S3Endpoint,
			Region:   cfg.AWSDefaultRegion,
		})
		if err != nil {
			return nil, err
		}
		p.Archiver = archive.NewS3Archiver(s3Client)
	}

	dsn := cfg.DSN()
	return pipeline.NewRunner(p, func(ctx context.Context) (pipeline.Conn, error) {
		conn, err := crdb.ConnectToDB(ctx, dsn, cfg.DBSearchPath)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}), nil
}

// logFailure writes one line describing a failed run, with the Postgres error
// code and message or the fetch failure kind when there is one.
func logFailure(err error, msg string) {
	ev := logger.Error().Err(err).Bool("permanent", utils.IsPermanent(err))

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		ev = ev.Str("pgcode", pgErr.Code).Str("pgerror", pgErr.Message)
	}
	var fetchErr *fetcher.Error
	if errors.As(err, &fetchErr) {
		ev = ev.Str("fetchErrorKind", string(fetchErr.Kind))
		if fetchErr.StatusCode != 0 {
			ev = ev.Int("statusCode", fetchErr.StatusCode)
		}
	}
	ev.Msg(msg)
}
