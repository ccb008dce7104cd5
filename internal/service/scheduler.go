package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hedge-snapshots/internal/logging"
	"github.com/hedge-snapshots/internal/types"
)

// Scheduler triggers a snapshot run once a day at a fixed UTC time of day
type Scheduler struct {
	creator *SnapshotCreatorService
	runAt   time.Duration
	logger  *logging.Logger
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewScheduler creates a scheduler running at runAt ("HH:MM", UTC). An empty runAt means
// midnight.
func NewScheduler(creator *SnapshotCreatorService, runAt string, logger *logging.Logger) (*Scheduler, error) {
	offset, err := parseRunAt(runAt)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Scheduler{
		creator: creator,
		runAt:   offset,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

func parseRunAt(runAt string) (time.Duration, error) {
	if runAt == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", runAt)
	if err != nil {
		return 0, fmt.Errorf("invalid run time %q: %w", runAt, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// NextRun is the first scheduled time strictly after now
func (s *Scheduler) NextRun(now time.Time) time.Time {
	next := types.StartOfDay(now).Add(s.runAt)
	if !next.After(now) {
		next = types.StartOfDay(now).AddDate(0, 0, 1).Add(s.runAt)
	}
	return next
}

// Start runs the scheduler loop in the background until Stop or ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("snapshot scheduler is already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stopChan, s.done)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		now := s.now()
		next := s.NextRun(now)
		s.logger.WithField("next_run", next).Info("Snapshot scheduler waiting")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-timer.C:
			s.runOnce(ctx, next)
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// runOnce snapshots every company at the start of the day of fired
func (s *Scheduler) runOnce(ctx context.Context, fired time.Time) {
	ref := types.StartOfDay(fired)
	summary, err := s.creator.Run(ctx, ref, nil)
	if err != nil {
		s.logger.WithError(err).WithField("ref_date", ref).Error("Scheduled snapshot run failed")
		return
	}
	if failed := summary.Failed(); len(failed) > 0 {
		s.logger.WithFields(map[string]interface{}{
			"run_id": summary.RunID,
			"failed": len(failed),
		}).Warn("Scheduled snapshot run finished with failures")
	}
}

// Stop ends the loop and waits for an in-flight run to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("snapshot scheduler is not running")
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	return nil
}

// IsRunning reports whether the loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
