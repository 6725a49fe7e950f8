package monitoring

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/isdelr/winepair-be/internal/models"
	"github.com/isdelr/winepair-be/internal/services"
)

// BackupRunner performs one backup cycle.
type BackupRunner interface {
	RunOnce(ctx context.Context) (models.RunReport, error)
}

// Handle is returned by Start and reports when the scheduler loop has exited.
type Handle struct {
	done chan struct{}
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the loop has exited.
func (h *Handle) Wait() {
	<-h.done
}

// session is the state of one Start..Stop lifetime.
type session struct {
	handle     *Handle
	loopCancel context.CancelFunc
	runCtx     context.Context
	runCancel  context.CancelFunc
	runs       sync.WaitGroup
}

// Scheduler runs backup cycles on a schedule, one at a time.
type Scheduler struct {
	runner   BackupRunner
	eventSvc services.EventServiceProvider
	schedule cron.Schedule
	clock    clock.Clock

	inFlight atomic.Bool

	mu      sync.Mutex
	session *session
	cycles  int
	failed  int
	skipped int
	lastRun *time.Time
	nextRun *time.Time
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(runner BackupRunner, eventSvc services.EventServiceProvider, schedule cron.Schedule, clk clock.Clock) *Scheduler {
	return &Scheduler{
		runner:   runner,
		eventSvc: eventSvc,
		schedule: schedule,
		clock:    clk,
	}
}

// Start launches the scheduling loop. The first cycle runs at the schedule's next activation,
// not immediately. Calling Start on a running scheduler returns the existing handle.
func (s *Scheduler) Start(ctx context.Context) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return s.session.handle
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	runCtx, runCancel := context.WithCancel(ctx)
	sess := &session{
		handle:     &Handle{done: make(chan struct{})},
		loopCancel: loopCancel,
		runCtx:     runCtx,
		runCancel:  runCancel,
	}
	s.session = sess

	log.Info().Msg("Starting backup scheduler...")
	go s.loop(loopCtx, sess)
	return sess.handle
}

// Stop halts the loop and waits for it to exit. A running cycle is given until ctx is done to
// finish, after which it is cancelled and awaited. Stop on an idle scheduler is a no-op.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.nextRun = nil
	s.mu.Unlock()

	if sess == nil {
		return nil
	}

	sess.loopCancel()
	sess.handle.Wait()

	finished := make(chan struct{})
	go func() {
		sess.runs.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		sess.runCancel()
		log.Info().Msg("Backup scheduler stopped.")
		return nil
	case <-ctx.Done():
		log.Warn().Msg("Backup cycle still running at shutdown, cancelling it")
		sess.runCancel()
		<-finished
		return errors.Annotate(ctx.Err(), "backup cycle cancelled on stop")
	}
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() models.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := models.SchedulerStatus{
		State:        models.SchedulerIdle,
		Exporting:    s.inFlight.Load(),
		Cycles:       s.cycles,
		FailedCycles: s.failed,
		SkippedTicks: s.skipped,
		LastRunAt:    copyTime(s.lastRun),
		NextRunAt:    copyTime(s.nextRun),
	}
	if s.session != nil {
		status.State = models.SchedulerRunning
	}
	return status
}

func (s *Scheduler) loop(ctx context.Context, sess *session) {
	defer close(sess.handle.done)
	defer func() {
		// Parent context cancelled: nobody will call Stop for this session.
		s.mu.Lock()
		current := s.session == sess
		if current {
			s.session = nil
			s.nextRun = nil
		}
		s.mu.Unlock()
		if current {
			sess.runCancel()
			sess.runs.Wait()
			log.Info().Msg("Backup scheduler stopped.")
		}
	}()

	prev := s.clock.Now()
	for {
		now := s.clock.Now()
		next := nextActivation(s.schedule, prev)
		if next.Before(now) {
			// Missed activations are not replayed.
			next = nextActivation(s.schedule, now)
		}
		if next.IsZero() {
			log.Error().Msg("Backup schedule has no upcoming activation")
			<-ctx.Done()
			return
		}
		s.setNextRun(sess, next)

		timer := s.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
			prev = next
			s.tick(sess)
		}
	}
}

// tick starts a cycle unless the previous one is still running.
func (s *Scheduler) tick(sess *session) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		log.Warn().Msg("Previous backup cycle still running, skipping this tick")
		return
	}

	sess.runs.Add(1)
	go func() {
		defer sess.runs.Done()
		defer s.inFlight.Store(false)
		s.runCycle(sess.runCtx)
	}()
}

func (s *Scheduler) runCycle(ctx context.Context) {
	startedAt := s.clock.Now().UTC()
	err := s.safeRun(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduled backup cycle failed")
		if s.eventSvc != nil {
			msg := fmt.Sprintf("Scheduled backup failed to execute: %v", err)
			if evErr := s.eventSvc.CreateEvent(context.WithoutCancel(ctx), "schedule.execute.fail", services.LevelError, msg, nil); evErr != nil {
				log.Warn().Err(evErr).Msg("Failed to record scheduler event")
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	s.lastRun = &startedAt
	if err != nil {
		s.failed++
	}
}

// safeRun runs one cycle, turning a panic into an error.
func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("backup cycle panicked: %v", r)
		}
	}()

	report, err := s.runner.RunOnce(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if failed := report.Failed(); len(failed) > 0 {
		log.Warn().Int("failed", len(failed)).Msg("Backup cycle finished with failed collections")
	}
	return nil
}

// nextActivation returns the activation following prev. cron's Next for a constant delay rounds
// down to the whole second, so the delay is added to prev directly instead.
func nextActivation(schedule cron.Schedule, prev time.Time) time.Time {
	if every, ok := schedule.(cron.ConstantDelaySchedule); ok {
		return prev.Add(every.Delay)
	}
	return schedule.Next(prev)
}

func (s *Scheduler) setNextRun(sess *session, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == sess {
		next = next.UTC()
		s.nextRun = &next
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
