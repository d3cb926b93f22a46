package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"CampaignMailer/internal/lock"
	"CampaignMailer/internal/processor"
)

// Runner is the part of the processor a trigger drives.
type Runner interface {
	ProcessScheduledEmails(ctx context.Context) (*processor.Summary, error)
	ProcessQueue(ctx context.Context) (*processor.Summary, error)
}

// StartTrigger invokes the processor every interval until ctx is done. Each tick is an
// independent invocation: scheduled emails first, then the queue.
func StartTrigger(
	ctx context.Context,
	wg *sync.WaitGroup,
	interval time.Duration,
	runner Runner,
	locker lock.Locker,
	lockTTL time.Duration,
	logger *zap.Logger,
) {

	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		logger.Info("trigger started", zap.Duration("interval", interval))

		for {
			select {

			case <-ctx.Done():
				logger.Info("trigger shutting down")
				return

			case <-ticker.C:
				Tick(ctx, runner, locker, lockTTL, logger)
			}
		}
	}()
}

// Tick runs one trigger round. A job that has started runs to completion even if ctx
// is cancelled meanwhile; cancellation only stops the next job from starting.
func Tick(ctx context.Context, runner Runner, locker lock.Locker, lockTTL time.Duration, logger *zap.Logger) {
	jobs := []struct {
		name string
		run  func(context.Context) (*processor.Summary, error)
	}{
		{"scheduled", runner.ProcessScheduledEmails},
		{"queue", runner.ProcessQueue},
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}

		release, err := locker.Acquire(ctx, job.name, lockTTL)
		if errors.Is(err, lock.ErrHeld) {
			logger.Info("skipping tick, another invocation is running", zap.String("job", job.name))
			continue
		}
		if err != nil {
			logger.Error("failed to acquire lock", zap.String("job", job.name), zap.Error(err))
			continue
		}

		summary, err := job.run(context.WithoutCancel(ctx))
		release()

		if err != nil {
			logger.Error("processor invocation failed", zap.String("job", job.name), zap.Error(err))
			continue
		}
		if summary.Total > 0 {
			logger.Info("processor invocation finished",
				zap.String("job", job.name),
				zap.Int("processed", summary.Processed),
				zap.Int("failed", summary.Failed),
			)
		}
	}
}
