package crystal

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"
)

// scheduler is the background worker driving eviction, queued and periodic
// saves and journal flushes.
type scheduler struct {
	*worker.BaseWorker
	cz       *Crystalizer
	interval time.Duration
	cancel   context.CancelFunc
	ticks    atomic.Int64
}

func newScheduler(cz *Crystalizer, interval time.Duration) *scheduler {
	return &scheduler{
		BaseWorker: worker.NewBaseWorker("crystal-scheduler"),
		cz:         cz,
		interval:   interval,
	}
}

func (s *scheduler) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := s.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("scheduler already started (status: %s)", status)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.SetStatus(worker.StatusRunning)
	return s.StartFunc(runCtx, s.run)
}

func (s *scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.StopRequested = true
		s.cancel()
	}
	return s.BaseWorker.Stop(ctx)
}

func (s *scheduler) running() bool {
	return s.cancel != nil && !s.StopRequested
}

func (s *scheduler) State() worker.State {
	return s.ExportState(func(st *worker.State) {
		st.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"ticks":             fmt.Sprint(s.ticks.Load()),
		}
	})
}

// run ticks until ctx is cancelled. A tick in flight completes before run
// returns.
func (s *scheduler) run(ctx context.Context) (err error) {
	logger := s.cz.logger
	defer func() {
		if recovered := recover(); recovered != nil {
			panicErr := fmt.Errorf("scheduler panic: %v", recovered)

			// Stack only at debug level to keep production logs short.
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Error("scheduler panic", "error", panicErr, "stack", string(debug.Stack()))
			} else {
				logger.Error("scheduler panic", "error", panicErr)
			}
			err = panicErr
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.cz.tick(ctx)
			s.ticks.Add(1)
		}
	}
}
