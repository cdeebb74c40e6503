package query

import (
	"context"
	"database/sql"
	"time"
)

const finishSyncRun = `-- name: FinishSyncRun :exec
UPDATE public.sync_runs
SET status = $2, rows_fetched = $3, rows_written = $4, error = $5, finished_at = $6
WHERE id = $1
`

type FinishSyncRunParams struct {
	ID          string
	Status      string
	RowsFetched int64
	RowsWritten int64
	Error       sql.NullString
	FinishedAt  sql.NullTime
}

func (q *Queries) FinishSyncRun(ctx context.Context, arg FinishSyncRunParams) error {
	_, err := q.db.Exec(ctx, finishSyncRun,
		arg.ID,
		arg.Status,
		arg.RowsFetched,
		arg.RowsWritten,
		arg.Error,
		arg.FinishedAt,
	)
	return err
}

const insertSyncRun = `-- name: InsertSyncRun :exec
INSERT INTO public.sync_runs (id, entity, status, started_at)
VALUES ($1, $2, 'running', $3)
`

type InsertSyncRunParams struct {
	ID        string
	Entity    string
	StartedAt time.Time
}

func (q *Queries) InsertSyncRun(ctx context.Context, arg InsertSyncRunParams) error {
	_, err := q.db.Exec(ctx, insertSyncRun, arg.ID, arg.Entity, arg.StartedAt)
	return err
}

const listSyncRuns = `-- name: ListSyncRuns :many
SELECT id, entity, status, rows_fetched, rows_written, error, started_at, finished_at
FROM public.sync_runs
ORDER BY started_at DESC
LIMIT $1
`

func (q *Queries) ListSyncRuns(ctx context.Context, limit int32) ([]SyncRun, error) {
	rows, err := q.db.Query(ctx, listSyncRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SyncRun
	for rows.Next() {
		var i SyncRun
		if err := rows.Scan(
			&i.ID,
			&i.Entity,
			&i.Status,
			&i.RowsFetched,
			&i.RowsWritten,
			&i.Error,
			&i.StartedAt,
			&i.FinishedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
