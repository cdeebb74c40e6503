package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/danthegoodman1/rawsync/gologger"
	"github.com/danthegoodman1/rawsync/pipeline"
	"github.com/robfig/cron/v3"
)

type (
	// RunFunc is satisfied by (*pipeline.Runner).Run.
	RunFunc func(ctx context.Context, entity string) (*pipeline.Result, error)

	Scheduler struct {
		cron   *cron.Cron
		run    RunFunc
		ctx    context.Context
		cancel context.CancelFunc
	}
)

var logger = gologger.NewLogger()

// New schedules run for every entity on the standard five field cron spec.
func New(ctx context.Context, spec string, entities []string, run RunFunc) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		cron:   cron.New(),
		run:    run,
		ctx:    ctx,
		cancel: cancel,
	}
	for _, entity := range entities {
		entity := entity
		_, err := s.cron.AddFunc(spec, func() {
			s.trigger(s.ctx, entity)
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) trigger(ctx context.Context, entity string) {
	logger.Info().Str("entity", entity).Msg("cron: starting sync")
	res, err := s.run(ctx, entity)
	if errors.Is(err, pipeline.ErrRunInProgress) {
		logger.Warn().Str("entity", entity).Msg("cron: previous sync still running, skipping")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("entity", entity).Msg("cron: sync failed")
		return
	}
	logger.Info().Str("entity", entity).Str("runID", res.RunID).Int64("rowsWritten", res.RowsWritten).Msg("cron: sync finished")
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info().Int("jobs", len(s.cron.Entries())).Msg("cron: scheduler started")
}

// Stop prevents new triggers, cancels the context of running jobs and returns a
// context that is done once they have returned.
func (s *Scheduler) Stop() context.Context {
	done := s.cron.Stop()
	s.cancel()
	return done
}
