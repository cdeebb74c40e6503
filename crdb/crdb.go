package crdb

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgx"
	"github.com/danthegoodman1/rawsync/gologger"
	"github.com/danthegoodman1/rawsync/utils"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
)

type (
	// DB is the subset of *pgx.Conn the sync components run against.
	DB interface {
		Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
		QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
		Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
		Begin(ctx context.Context) (pgx.Tx, error)
		BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	}

	TxFunc func(ctx context.Context, tx pgx.Tx) error
)

var (
	StandardContextTimeout = 10 * time.Second

	logger = gologger.NewLogger()
)

// ConnectToDB opens the single connection a sync run works on and points its
// search_path at searchPath (skipped when empty).
func ConnectToDB(ctx context.Context, dsn, searchPath string) (*pgx.Conn, error) {
	logger.Debug().Msg("connecting to postgres...")
	config, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, utils.PermError(fmt.Sprintf("invalid database dsn: %s", err))
	}

	config.ConnectTimeout = StandardContextTimeout
	config.RuntimeParams["application_name"] = "rawsync-" + utils.GenRandomShortID()

	conn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("error in pgx.ConnectConfig: %w", err)
	}

	if searchPath != "" {
		if err := SetSearchPath(ctx, conn, searchPath); err != nil {
			conn.Close(context.Background())
			return nil, err
		}
	}

	logger.Debug().Str("host", config.Host).Str("database", config.Database).Msg("connected to postgres")
	return conn, nil
}

// SetSearchPath sets the session search_path to a single schema.
func SetSearchPath(ctx context.Context, db DB, schema string) error {
	_, err := db.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
	if err != nil {
		return fmt.Errorf("error setting search_path to %s: %w", schema, err)
	}
	return nil
}

// RunInTx runs fn in one transaction, committing on success and rolling back on
// any error. With retry set, serialization failures are retried through
// cockroach-go's savepoint protocol.
func RunInTx(ctx context.Context, db DB, retry bool, fn TxFunc) error {
	if retry {
		return crdbpgx.ExecuteTx(ctx, db, pgx.TxOptions{}, func(tx pgx.Tx) error {
			return fn(ctx, tx)
		})
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error in Begin: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logger.Error().Err(rbErr).Msg("error rolling back transaction")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("error in Commit: %w", err)
	}
	return nil
}
