package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/danthegoodman1/rawsync/crdb"
	"github.com/danthegoodman1/rawsync/query"
)

type (
	// Conn is the connection a run owns. *pgx.Conn satisfies it.
	Conn interface {
		crdb.DB
		Close(ctx context.Context) error
	}

	Connector func(ctx context.Context) (Conn, error)

	// Runner opens one connection per run and closes it on every exit path. Runs
	// of the same entity are mutually exclusive across every trigger sharing the
	// Runner.
	Runner struct {
		Pipeline *Pipeline
		Connect  Connector

		guard runningGuard
	}
)

var ErrRunInProgress = errors.New("a sync run is already in progress")

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

func NewRunner(p *Pipeline, connect Connector) *Runner {
	return &Runner{
		Pipeline: p,
		Connect:  connect,
	}
}

func (r *Runner) Run(ctx context.Context, entityName string) (*Result, error) {
	entity, err := LookupEntity(entityName)
	if err != nil {
		return nil, err
	}

	if !r.guard.TryLock(entity.Name) {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, entity.Name)
	}
	defer r.guard.Unlock(entity.Name)

	conn, err := r.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	defer closeConn(ctx, conn)

	return r.Pipeline.Run(ctx, conn, entity)
}

// ListRuns returns the most recent run log rows, newest first.
func (r *Runner) ListRuns(ctx context.Context, limit int) ([]query.SyncRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	conn, err := r.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	defer closeConn(ctx, conn)

	runs, err := query.New(conn).ListSyncRuns(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("error in ListSyncRuns: %w", err)
	}
	return runs, nil
}

// Wait blocks until in-flight runs finish or ctx is done.
func (r *Runner) Wait(ctx context.Context) {
	r.guard.WaitAll(ctx)
}

func closeConn(ctx context.Context, conn Conn) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), crdb.StandardContextTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		logger.Error().Err(err).Msg("error closing database connection")
	}
}
