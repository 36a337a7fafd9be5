package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type panickingWorker struct {
	calls atomic.Int32
}

func (w *panickingWorker) Run(context.Context) error {
	w.calls.Add(1)
	panic("boom")
}

type oneShotWorker struct{}

func (oneShotWorker) Run(context.Context) error {
	return nil
}

type blockingWorker struct{}

func (blockingWorker) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSupervisor_RestartOnPanic(t *testing.T) {
	req := require.New(t)
	worker := &panickingWorker{}
	sup := NewSupervisor(slog.Default(), 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go sup.Add(worker).Run(ctx)

	// Waiting for panics and restarts
	req.Eventually(func() bool {
		return worker.calls.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisor_StopOnSuccess(t *testing.T) {
	req := require.New(t)
	sup := NewSupervisor(slog.Default(), 10*time.Millisecond)

	// Given a channel to notify when Run() terminated
	done := make(chan struct{})

	go func() {
		sup.Add(oneShotWorker{}).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
		// Then the supervisor detected a success and stopped
	case <-time.After(500 * time.Millisecond):
		req.Fail("Supervisor should have stopped after worker success")
	}
}

func TestSupervisor_Stop_Cancels_Workers(t *testing.T) {
	req := require.New(t)
	sup := NewSupervisor(slog.Default(), 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		sup.Add(blockingWorker{}).Run(context.Background())
		close(done)
	}()

	// Give the worker time to start blocking on its context
	time.Sleep(50 * time.Millisecond)
	sup.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("Supervisor should have drained after Stop")
	}
}
