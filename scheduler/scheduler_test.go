package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danthegoodman1/rawsync/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvalidSpec(t *testing.T) {
	_, err := New(context.Background(), "every tuesday", []string{"clients"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestNewRegistersEntities(t *testing.T) {
	s, err := New(context.Background(), "0 2 * * *", []string{"clients"}, nil)
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestTrigger(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	results := []error{nil, pipeline.ErrRunInProgress, errors.New("boom")}
	s, err := New(context.Background(), "@every 1h", []string{"clients"}, func(ctx context.Context, entity string) (*pipeline.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		err := results[len(calls)]
		calls = append(calls, entity)
		if err != nil {
			return nil, err
		}
		return &pipeline.Result{RunID: "run", Entity: entity}, nil
	})
	require.NoError(t, err)

	// none of the outcomes may panic
	s.trigger(context.Background(), "clients")
	s.trigger(context.Background(), "clients")
	s.trigger(context.Background(), "clients")
	assert.Equal(t, []string{"clients", "clients", "clients"}, calls)
}

func TestStartStop(t *testing.T) {
	s, err := New(context.Background(), "@every 1h", []string{"clients"}, nil)
	require.NoError(t, err)
	s.Start()
	<-s.Stop().Done()
}

func TestStopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	s, err := New(context.Background(), "@every 1h", []string{"clients"}, func(ctx context.Context, entity string) (*pipeline.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	finished := make(chan struct{})
	go func() {
		s.trigger(s.ctx, "clients")
		close(finished)
	}()
	<-started

	s.Stop()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("running job was not cancelled by Stop")
	}
	assert.ErrorIs(t, s.ctx.Err(), context.Canceled)
}
