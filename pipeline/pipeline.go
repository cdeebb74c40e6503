package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"html"
	"net/url"
	"time"

	"github.com/danthegoodman1/rawsync/crdb"
	"github.com/danthegoodman1/rawsync/gologger"
	"github.com/danthegoodman1/rawsync/query"
	"github.com/danthegoodman1/rawsync/recordset"
	"github.com/danthegoodman1/rawsync/schema_manager"
	"github.com/danthegoodman1/rawsync/upsert"
	"github.com/danthegoodman1/rawsync/utils"
	"github.com/rs/zerolog"
)

type (
	// Source is satisfied by *fetcher.Client.
	Source interface {
		Fetch(ctx context.Context, path string, query url.Values) (*recordset.RecordSet, error)
	}

	// Archiver is satisfied by *archive.S3Archiver.
	Archiver interface {
		Archive(ctx context.Context, entity string, rs *recordset.RecordSet) (string, error)
	}

	Options struct {
		// TargetSchema overrides the entity's schema when set
		TargetSchema string
		Schema       schema_manager.Options
		Upsert       upsert.Options
		// RunLog records every run in public.sync_runs
		RunLog bool
	}

	// Pipeline runs fetch, projection, archive, table creation and upsert for
	// one entity on a connection owned by the caller.
	Pipeline struct {
		Source   Source
		Archiver Archiver
		Options  Options
	}

	Result struct {
		RunID       string
		Entity      string
		RowsFetched int64
		RowsWritten int64
		ArchiveKey  string `json:",omitempty"`
		Duration    time.Duration
	}
)

var logger = gologger.NewLogger()

const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusError   = "error"
)

func (p *Pipeline) Run(ctx context.Context, db crdb.DB, entity Entity) (*Result, error) {
	res := &Result{
		RunID:  utils.GenKSortedID(""),
		Entity: entity.Name,
	}
	ctx = context.WithValue(ctx, gologger.RunIDKey, res.RunID)
	logger := zerolog.Ctx(ctx).With().Str("runID", res.RunID).Str("entity", entity.Name).Logger()
	ctx = logger.WithContext(ctx)

	schema := entity.Schema
	if p.Options.TargetSchema != "" {
		schema = p.Options.TargetSchema
	}

	start := time.Now()
	if p.Options.RunLog {
		err := query.New(db).InsertSyncRun(ctx, query.InsertSyncRunParams{
			ID:        res.RunID,
			Entity:    entity.Name,
			StartedAt: start,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("error inserting sync run, continuing")
		}
	}

	err := p.run(ctx, db, entity, schema, res)
	res.Duration = time.Since(start)

	if p.Options.RunLog {
		p.finishRunLog(ctx, db, res, err)
	}
	if err != nil {
		return res, err
	}

	logger.Info().Int64("rowsFetched", res.RowsFetched).Int64("rowsWritten", res.RowsWritten).Dur("took", res.Duration).Msg("sync finished")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, db crdb.DB, entity Entity, schema string, res *Result) error {
	logger := zerolog.Ctx(ctx)

	fetched, err := p.Source.Fetch(ctx, entity.Path, entity.Query)
	if err != nil {
		return fmt.Errorf("error fetching %s: %w", entity.Name, err)
	}
	res.RowsFetched = int64(fetched.Len())

	rs, err := Project(fetched, entity.Columns)
	if err != nil {
		return fmt.Errorf("error projecting %s: %w", entity.Name, err)
	}

	if p.Archiver != nil {
		key, err := p.Archiver.Archive(ctx, entity.Name, rs)
		if err != nil {
			logger.Warn().Err(err).Msg("error archiving snapshot, continuing")
		}
		res.ArchiveKey = key
	}

	err = schema_manager.EnsureTable(ctx, db, rs, schema, entity.Table, entity.PrimaryKey, p.Options.Schema)
	if err != nil {
		return fmt.Errorf("error in EnsureTable: %w", err)
	}

	res.RowsWritten, err = upsert.Upsert(ctx, db, rs, schema, entity.Table, entity.PrimaryKey, p.Options.Upsert)
	if err != nil {
		return fmt.Errorf("error in Upsert: %w", err)
	}
	return nil
}

// Project keeps columns in the given order and unescapes HTML entities in every
// text cell. A column the record set lacks is an error.
func Project(rs *recordset.RecordSet, columns []string) (*recordset.RecordSet, error) {
	selected, err := rs.Select(columns...)
	if err != nil {
		return nil, err
	}
	return selected.MapText(html.UnescapeString), nil
}

func (p *Pipeline) finishRunLog(ctx context.Context, db crdb.DB, res *Result, runErr error) {
	params := query.FinishSyncRunParams{
		ID:          res.RunID,
		Status:      StatusSuccess,
		RowsFetched: res.RowsFetched,
		RowsWritten: res.RowsWritten,
		FinishedAt:  sql.NullTime{Time: time.Now(), Valid: true},
	}
	if runErr != nil {
		params.Status = StatusError
		params.Error = sql.NullString{String: runErr.Error(), Valid: true}
	}

	// recorded even when the run was cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), crdb.StandardContextTimeout)
	defer cancel()
	if err := query.New(db).FinishSyncRun(ctx, params); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("error finishing sync run")
	}
}
