package http_server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danthegoodman1/rawsync/pipeline"
	"github.com/danthegoodman1/rawsync/query"
	"github.com/danthegoodman1/rawsync/utils"
)

type (
	SyncReqBody struct {
		Entity string `validate:"required"`
	}

	SyncRun struct {
		ID          string
		Entity      string
		Status      string
		RowsFetched int64
		RowsWritten int64
		Error       *string    `json:",omitempty"`
		StartedAt   time.Time
		FinishedAt  *time.Time `json:",omitempty"`
	}
)

// SyncHandler runs one sync and answers with its result. The run is not tied to
// the request, a client hanging up does not abort it.
func (s *HTTPServer) SyncHandler(c *CustomContext) error {
	var reqBody SyncReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return err
	}

	ctx := context.WithoutCancel(c.Request().Context())
	res, err := s.Runner.Run(ctx, reqBody.Entity)
	if errors.Is(err, pipeline.ErrUnknownEntity) {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, pipeline.ErrRunInProgress) {
		return c.Conflict(err.Error())
	}
	if err != nil {
		return c.InternalError(err, "error running sync")
	}

	return c.JSON(http.StatusOK, res)
}

func (s *HTTPServer) ListRunsHandler(c *CustomContext) error {
	limit := pipeline.DefaultListLimit
	if l := c.QueryParam("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			return c.String(http.StatusBadRequest, "limit must be a positive integer")
		}
	}

	runs, err := s.Runner.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return c.InternalError(err, "error listing runs")
	}

	out := make([]SyncRun, 0, len(runs))
	for _, run := range runs {
		out = append(out, toSyncRun(run))
	}
	return c.JSON(http.StatusOK, out)
}

func toSyncRun(run query.SyncRun) SyncRun {
	out := SyncRun{
		ID:          run.ID,
		Entity:      run.Entity,
		Status:      run.Status,
		RowsFetched: run.RowsFetched,
		RowsWritten: run.RowsWritten,
		StartedAt:   run.StartedAt,
	}
	if run.Error.Valid {
		out.Error = utils.Ptr(run.Error.String)
	}
	if run.FinishedAt.Valid {
		out.FinishedAt = utils.Ptr(run.FinishedAt.Time)
	}
	return out
}
