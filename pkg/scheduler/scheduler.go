/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package scheduler provides the durable trigger scheduler behind both
// long-running processes. Schedules are keyed by id and upserted;
// elapsed fire times coalesce to the latest one; every task runs behind
// a uniform error boundary so a failing job can never take down the run
// loop.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Task is a unit of scheduled work. Errors are logged by the scheduler's
// error boundary and never propagate further.
type Task func(ctx context.Context) error

type scheduleOptions struct {
	maxRunning   int
	misfireGrace time.Duration
}

// Option customizes a single schedule.
type Option func(*scheduleOptions)

// WithMaxRunning caps how many executions of this schedule may be in
// flight at once. Fire times that arrive at the cap are skipped; the
// next trigger fire retries.
func WithMaxRunning(n int) Option {
	return func(o *scheduleOptions) { o.maxRunning = n }
}

// WithMisfireGrace skips fire times older than the grace when the loop
// catches up after a stall. Zero means elapsed fires are always run
// (coalesced to the latest).
func WithMisfireGrace(d time.Duration) Option {
	return func(o *scheduleOptions) { o.misfireGrace = d }
}

type schedule struct {
	id       string
	trigger  Trigger
	task     Task
	opts     scheduleOptions
	nextFire time.Time
	running  int
}

// Scheduler owns a set of schedules and a single run loop that fires
// them. Tasks execute on their own goroutines; the loop itself never
// blocks on a task.
type Scheduler struct {
	mu        sync.Mutex
	schedules map[string]*schedule
	closers   []func(ctx context.Context) error
	wake      chan struct{}
	jobs      sync.WaitGroup
	clock     clock.Clock
	log       *zap.Logger
}

func New(log *zap.Logger, clk clock.Clock) *Scheduler {
	return &Scheduler{
		schedules: map[string]*schedule{},
		wake:      make(chan struct{}, 1),
		clock:     clk,
		log:       log.Named("scheduler"),
	}
}

// AddSchedule registers or replaces the schedule with the given id. The
// call is an upsert so re-registration after a restart is safe.
func (s *Scheduler) AddSchedule(id string, trigger Trigger, task Task, opts ...Option) {
	options := scheduleOptions{maxRunning: 1}
	for _, opt := range opts {
		opt(&options)
	}
	s.mu.Lock()
	s.schedules[id] = &schedule{
		id:       id,
		trigger:  trigger,
		task:     task,
		opts:     options,
		nextFire: trigger.Next(s.clock.Now()),
	}
	s.mu.Unlock()
	s.poke()
}

// RemoveSchedule drops the schedule if present. Executions already in
// flight run to completion.
func (s *Scheduler) RemoveSchedule(id string) {
	s.mu.Lock()
	delete(s.schedules, id)
	s.mu.Unlock()
	s.poke()
}

// AddCloser registers a resource to close when the scheduler shuts down.
// Closers run in reverse registration order.
func (s *Scheduler) AddCloser(close func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, close)
}

// Run drives the loop until ctx is cancelled, then waits for in-flight
// jobs bounded by stopTimeout. It recovers loop panics into an error so
// the supervisor can observe the crash.
func (s *Scheduler) Run(ctx context.Context, stopTimeout time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler loop panicked: %v", r)
		}
	}()
	for {
		wait := s.fireDue(ctx)
		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.drain(stopTimeout)
		case <-s.wake:
			timer.Stop()
		case <-timer.C():
		}
	}
}

// Close releases registered resources, bounded by ctx.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	var errs error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, closers[i](ctx))
	}
	return errs
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// fireDue launches every schedule whose fire time has elapsed and
// returns how long the loop should sleep until the earliest upcoming
// fire.
func (s *Scheduler) fireDue(ctx context.Context) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	wait := time.Hour
	for id, sched := range s.schedules {
		if sched.nextFire.IsZero() {
			delete(s.schedules, id)
			continue
		}
		if sched.nextFire.After(now) {
			wait = min(wait, sched.nextFire.Sub(now))
			continue
		}
		// Coalesce elapsed fire times to the latest one.
		fireAt := sched.nextFire
		misfires := 0
		for !sched.nextFire.IsZero() && !sched.nextFire.After(now) {
			fireAt = sched.nextFire
			sched.nextFire = sched.trigger.Next(sched.nextFire.Add(time.Nanosecond))
			misfires++
		}
		jobMisfiresTotal.WithLabelValues(sched.id).Add(float64(misfires - 1))
		if sched.opts.misfireGrace > 0 && now.Sub(fireAt) > sched.opts.misfireGrace {
			s.log.Warn("skipping fire beyond misfire grace",
				zap.String("schedule", sched.id), zap.Time("fire-at", fireAt))
			jobMisfiresTotal.WithLabelValues(sched.id).Inc()
		} else if sched.running >= sched.opts.maxRunning {
			s.log.Debug("skipping fire, schedule at max running jobs",
				zap.String("schedule", sched.id))
		} else {
			sched.running++
			s.jobs.Add(1)
			go s.execute(ctx, sched)
		}
		if sched.nextFire.IsZero() {
			delete(s.schedules, id)
		} else {
			wait = min(wait, sched.nextFire.Sub(now))
		}
	}
	return wait
}

// execute runs one task behind the error boundary.
func (s *Scheduler) execute(ctx context.Context, sched *schedule) {
	defer s.jobs.Done()
	defer func() {
		s.mu.Lock()
		sched.running--
		s.mu.Unlock()
	}()
	runID := uuid.NewString()
	log := s.log.With(zap.String("schedule", sched.id), zap.String("run-id", runID))
	start := s.clock.Now()
	defer func() {
		jobDurationSeconds.WithLabelValues(sched.id).Observe(s.clock.Since(start).Seconds())
		if r := recover(); r != nil {
			jobRunsTotal.WithLabelValues(sched.id, "panic").Inc()
			log.Error("job panicked", zap.Any("panic", r))
		}
	}()
	log.Debug("job starting")
	if err := sched.task(ctx); err != nil {
		jobRunsTotal.WithLabelValues(sched.id, "error").Inc()
		log.Error("job failed", zap.Error(err))
		return
	}
	jobRunsTotal.WithLabelValues(sched.id, "success").Inc()
	log.Debug("job finished", zap.Duration("duration", s.clock.Since(start)))
}

// drain waits for in-flight jobs, giving up after the timeout.
func (s *Scheduler) drain(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("jobs still running after %s stop timeout", timeout)
	}
}
