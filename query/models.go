package query

import (
	"database/sql"
	"time"
)

type SyncRun struct {
	ID          string
	Entity      string
	Status      string
	RowsFetched int64
	RowsWritten int64
	Error       sql.NullString
	StartedAt   time.Time
	FinishedAt  sql.NullTime
}
