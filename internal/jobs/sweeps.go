// Package jobs runs the periodic expiry sweeps on a river queue. The
// sweeps call the same state transitions the API uses; the queue only
// supplies the schedule and retry behavior.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
)

// Sweeper is the slice of the engines the workers need.
type Sweeper interface {
	SweepExpiredTasks(ctx context.Context) (int, error)
	SweepExpiredExecutions(ctx context.Context) (int, error)
}

// CheckSweeper closes expired checks.
type CheckSweeper interface {
	SweepExpiredChecks(ctx context.Context) (int, error)
}

type SweepTasksArgs struct{}

func (SweepTasksArgs) Kind() string { return "sweep_expired_tasks" }

type SweepExecutionsArgs struct{}

func (SweepExecutionsArgs) Kind() string { return "sweep_expired_executions" }

type SweepChecksArgs struct{}

func (SweepChecksArgs) Kind() string { return "sweep_expired_checks" }

type SweepTasksWorker struct {
	river.WorkerDefaults[SweepTasksArgs]
	escrow Sweeper
	logger *slog.Logger
}

func NewSweepTasksWorker(escrow Sweeper, logger *slog.Logger) *SweepTasksWorker {
	return &SweepTasksWorker{escrow: escrow, logger: logger}
}

func (w *SweepTasksWorker) Work(ctx context.Context, job *river.Job[SweepTasksArgs]) error {
	n, err := w.escrow.SweepExpiredTasks(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Info("expired tasks closed", "count", n)
	}
	return nil
}

type SweepExecutionsWorker struct {
	river.WorkerDefaults[SweepExecutionsArgs]
	escrow Sweeper
	logger *slog.Logger
}

func NewSweepExecutionsWorker(escrow Sweeper, logger *slog.Logger) *SweepExecutionsWorker {
	return &SweepExecutionsWorker{escrow: escrow, logger: logger}
}

func (w *SweepExecutionsWorker) Work(ctx context.Context, job *river.Job[SweepExecutionsArgs]) error {
	n, err := w.escrow.SweepExpiredExecutions(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Info("expired executions closed", "count", n)
	}
	return nil
}

type SweepChecksWorker struct {
	river.WorkerDefaults[SweepChecksArgs]
	checks CheckSweeper
	logger *slog.Logger
}

func NewSweepChecksWorker(checks CheckSweeper, logger *slog.Logger) *SweepChecksWorker {
	return &SweepChecksWorker{checks: checks, logger: logger}
}

func (w *SweepChecksWorker) Work(ctx context.Context, job *river.Job[SweepChecksArgs]) error {
	n, err := w.checks.SweepExpiredChecks(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Info("expired checks closed", "count", n)
	}
	return nil
}

// Periodic returns the schedule for the three sweeps.
func Periodic(interval time.Duration) []*river.PeriodicJob {
	opts := &river.PeriodicJobOpts{RunOnStart: true}
	return []*river.PeriodicJob{
		river.NewPeriodicJob(river.PeriodicInterval(interval), func() (river.JobArgs, *river.InsertOpts) {
			return SweepTasksArgs{}, nil
		}, opts),
		river.NewPeriodicJob(river.PeriodicInterval(interval), func() (river.JobArgs, *river.InsertOpts) {
			return SweepExecutionsArgs{}, nil
		}, opts),
		river.NewPeriodicJob(river.PeriodicInterval(interval), func() (river.JobArgs, *river.InsertOpts) {
			return SweepChecksArgs{}, nil
		}, opts),
	}
}
