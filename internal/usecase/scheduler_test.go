package usecase

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRunner struct {
	started chan struct{}
	runs    atomic.Int32
}

func (b *blockingRunner) Run(ctx context.Context) (RunResult, error) {
	b.runs.Add(1)
	b.started <- struct{}{}
	<-ctx.Done()
	return RunResult{RunID: "r"}, nil
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 4)}
	s, err := NewScheduler("@every 1h", runner, nil)
	require.NoError(t, err)
	s.Start(context.Background(), true)

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("run on start did not fire")
	}
	assert.False(t, s.Trigger())
	assert.EqualValues(t, 1, s.Skipped())

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.EqualValues(t, 1, runner.runs.Load())
	assert.False(t, s.Trigger(), "no runs after stop")
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	_, err := NewScheduler("not a schedule", &blockingRunner{}, nil)
	assert.Error(t, err)
}
