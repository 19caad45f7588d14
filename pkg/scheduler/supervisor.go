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

package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

const (
	DefaultMonitorInterval    = 10 * time.Second
	DefaultMaxRestartAttempts = 5
	DefaultRestartDelay       = 5 * time.Second
	DefaultStopTimeout        = 5 * time.Second
	DefaultCloseTimeout       = 3 * time.Second
)

// Factory builds a fully registered scheduler instance. The supervisor
// calls it once at startup and again after every crash, so all schedule
// registration and resource acquisition must happen inside it.
type Factory func(ctx context.Context) (*Scheduler, error)

// Supervisor keeps a scheduler instance alive. It watches the run loop
// from a monitor tick and replaces crashed instances with fresh ones,
// on the assumption that internal state after a crash is corrupt.
type Supervisor struct {
	factory            Factory
	clock              clock.Clock
	log                *zap.Logger
	MonitorInterval    time.Duration
	MaxRestartAttempts int
	RestartDelay       time.Duration
	StopTimeout        time.Duration
	CloseTimeout       time.Duration
}

func NewSupervisor(log *zap.Logger, clk clock.Clock, factory Factory) *Supervisor {
	return &Supervisor{
		factory:            factory,
		clock:              clk,
		log:                log.Named("supervisor"),
		MonitorInterval:    DefaultMonitorInterval,
		MaxRestartAttempts: DefaultMaxRestartAttempts,
		RestartDelay:       DefaultRestartDelay,
		StopTimeout:        DefaultStopTimeout,
		CloseTimeout:       DefaultCloseTimeout,
	}
}

type runner struct {
	scheduler *Scheduler
	cancel    context.CancelFunc
	done      chan error
}

// Start blocks until ctx is cancelled or the restart budget is
// exhausted. A scheduler that keeps crashing faster than the monitor can
// restart it ends the process with an error.
func (s *Supervisor) Start(ctx context.Context) error {
	run, err := s.launch(ctx)
	if err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	restarts := 0
	launchedAt := s.clock.Now()
	for {
		timer := s.clock.NewTimer(s.MonitorInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.shutdown(run)
		case err := <-run.done:
			timer.Stop()
			if ctx.Err() != nil {
				// Shutdown in progress, not a crash.
				s.close(run)
				return nil
			}
			s.close(run)
			if s.clock.Since(launchedAt) >= s.MonitorInterval {
				// The instance ran healthily for a while, so this is a
				// new failure, not a crash loop.
				restarts = 0
			}
			restarts++
			restartsTotal.Inc()
			if restarts > s.MaxRestartAttempts {
				return fmt.Errorf("scheduler crashed %d times, giving up: %w", restarts, err)
			}
			s.log.Error("scheduler run loop exited unexpectedly, restarting",
				zap.Error(err), zap.Int("attempt", restarts), zap.Int("max-attempts", s.MaxRestartAttempts))
			if sleepErr := s.sleep(ctx, s.RestartDelay); sleepErr != nil {
				return nil
			}
			run, err = s.launch(ctx)
			launchedAt = s.clock.Now()
			if err != nil {
				s.log.Error("scheduler restart failed", zap.Error(err))
				// Burn the attempt and let the monitor retry.
				run = &runner{done: closedWith(err), cancel: func() {}}
				continue
			}
			s.log.Info("scheduler restarted")
		case <-timer.C():
		}
	}
}

func (s *Supervisor) launch(ctx context.Context) (*runner, error) {
	instance, err := s.factory(ctx)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	run := &runner{scheduler: instance, cancel: cancel, done: make(chan error, 1)}
	go func() {
		run.done <- instance.Run(runCtx, s.StopTimeout)
	}()
	return run, nil
}

// shutdown stops the runner and closes its resources. Timeouts are
// logged, not fatal.
func (s *Supervisor) shutdown(run *runner) error {
	run.cancel()
	select {
	case err := <-run.done:
		if err != nil {
			s.log.Warn("scheduler stopped with error", zap.Error(err))
		}
	case <-time.After(s.StopTimeout + time.Second):
		s.log.Warn("scheduler did not stop in time", zap.Duration("timeout", s.StopTimeout))
	}
	s.close(run)
	return nil
}

func (s *Supervisor) close(run *runner) {
	if run.scheduler == nil {
		return
	}
	run.cancel()
	closeCtx, cancel := context.WithTimeout(context.Background(), s.CloseTimeout)
	defer cancel()
	if err := run.scheduler.Close(closeCtx); err != nil {
		s.log.Warn("closing scheduler resources", zap.Error(err))
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

func closedWith(err error) chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}
