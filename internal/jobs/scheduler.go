// Package jobs runs delayed and recurring follow-up work outside of the request path.
package jobs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cyverse/cloudgw/internal/monitoring"
	"github.com/cyverse/cloudgw/logging"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

var log = logging.GetLogger().WithFields(logrus.Fields{"package": "jobs"})

// Default retry policy for failed jobs.
const (
	DefaultMaxAttempts   = 5
	DefaultRetryInterval = time.Second
)

// Job is a unit of follow-up work. The context is cancelled if the job is superseded or cancelled.
type Job func(ctx context.Context) error

// Key returns the job key for a kind of job on a resource.
func Key(kind, resourceID string) string {
	return kind + ":" + resourceID
}

// NextDailyBoundary returns the next midnight after now in now's location.
func NextDailyBoundary(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

type entry struct {
	generation uint64
	timer      clock.Timer
	cancel     context.CancelFunc
}

// Scheduler runs jobs after a delay. Scheduling a job under a key that already has a pending or running job
// supersedes the earlier one. Scheduling never blocks on job execution.
type Scheduler struct {
	clock         clock.WithDelayedExecution
	maxAttempts   int
	retryInterval time.Duration

	mu         sync.Mutex
	entries    map[string]*entry
	generation uint64
	stopped    bool
	wg         sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithRetryPolicy sets the number of attempts made for each job run and the initial wait between attempts.
func WithRetryPolicy(maxAttempts int, interval time.Duration) Option {
	return func(s *Scheduler) {
		s.maxAttempts = maxAttempts
		s.retryInterval = interval
	}
}

// NewScheduler returns a new Scheduler.
func NewScheduler(clk clock.WithDelayedExecution, opts ...Option) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	s := &Scheduler{
		clock:         clk,
		maxAttempts:   DefaultMaxAttempts,
		retryInterval: DefaultRetryInterval,
		entries:       make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	return s
}

// Schedule runs the job once after the delay.
func (s *Scheduler) Schedule(key string, delay time.Duration, job Job) {
	s.schedule(key, delay, 0, job)
}

// ScheduleRecurring runs the job at first and then every interval after that until it's cancelled.
func (s *Scheduler) ScheduleRecurring(key string, first time.Time, interval time.Duration, job Job) {
	s.schedule(key, first.Sub(s.clock.Now()), interval, job)
}

func (s *Scheduler) schedule(key string, delay, interval time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if delay < 0 {
		delay = 0
	}

	s.removeLocked(key)
	s.generation++
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{generation: s.generation, cancel: cancel}
	e.timer = s.clock.AfterFunc(delay, s.fire(ctx, key, e.generation, interval, job))
	s.entries[key] = e

	log.WithFields(logrus.Fields{"context": "schedule", "job": key}).Debugf("scheduled to run in %s", delay)
}

// fire returns the timer callback for a scheduled job run.
func (s *Scheduler) fire(ctx context.Context, key string, generation uint64, interval time.Duration, job Job) func() {
	return func() {
		s.mu.Lock()
		e, ok := s.entries[key]
		if !ok || e.generation != generation || s.stopped {
			s.mu.Unlock()
			return
		}
		if interval > 0 {
			e.timer = s.clock.AfterFunc(interval, s.fire(ctx, key, generation, interval, job))
		}
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()
		s.run(ctx, key, job)

		if interval <= 0 {
			s.mu.Lock()
			if e, ok := s.entries[key]; ok && e.generation == generation {
				delete(s.entries, key)
				e.cancel()
			}
			s.mu.Unlock()
		}
	}
}

// run executes a job, retrying failures with exponential backoff.
func (s *Scheduler) run(ctx context.Context, key string, job Job) {
	log := log.WithFields(logrus.Fields{"context": "run", "job": key})

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.MaxElapsedTime = 0
	b.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error { return job(ctx) }, policy, func(err error, wait time.Duration) {
		log.Warnf("job failed, retrying in %s: %s", wait, err)
	})
	monitoring.RecordJobRun(kind(key), err)
	if err != nil {
		log.Errorf("job failed: %s", err)
		return
	}
	log.Debug("job completed")
}

func kind(key string) string {
	k, _, _ := strings.Cut(key, ":")
	return k
}

// removeLocked stops and forgets the job stored under the key. The caller must hold s.mu.
func (s *Scheduler) removeLocked(key string) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	e.cancel()
	delete(s.entries, key)
	return true
}

// Cancel stops the job stored under the key. It returns false if there wasn't one.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(key)
}

// CancelResource stops every job keyed to the resource.
func (s *Scheduler) CancelResource(resourceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	suffix := ":" + resourceID
	count := 0
	for key := range s.entries {
		if strings.HasSuffix(key, suffix) && s.removeLocked(key) {
			count++
		}
	}
	return count
}

// Pending returns true if a job is stored under the key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Stop cancels every job and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for key := range s.entries {
		s.removeLocked(key)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
