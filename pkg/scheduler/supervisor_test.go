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

package scheduler_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/forecastarena/arena/pkg/scheduler"
)

// panicTrigger reports one immediate fire, then blows up inside the run
// loop to simulate corrupted scheduler state.
type panicTrigger struct {
	calls int
}

func (p *panicTrigger) Next(t time.Time) time.Time {
	p.calls++
	if p.calls == 1 {
		return t
	}
	panic("corrupted trigger state")
}

func newSupervisor(factory scheduler.Factory) *scheduler.Supervisor {
	s := scheduler.NewSupervisor(zap.NewNop(), clock.RealClock{}, factory)
	s.MonitorInterval = 10 * time.Millisecond
	s.RestartDelay = 10 * time.Millisecond
	s.StopTimeout = time.Second
	s.CloseTimeout = time.Second
	return s
}

var _ = Describe("Supervisor", func() {
	It("replaces a crashed scheduler with a fresh instance", func() {
		var instances, healthyRuns atomic.Int64
		factory := func(ctx context.Context) (*scheduler.Scheduler, error) {
			n := instances.Add(1)
			s := scheduler.New(zap.NewNop(), clock.RealClock{})
			if n == 1 {
				s.AddSchedule("doomed", &panicTrigger{},
					func(ctx context.Context) error { return nil })
				return s, nil
			}
			s.AddSchedule("healthy", scheduler.NewIntervalTrigger(10*time.Millisecond, time.Time{}),
				func(ctx context.Context) error { healthyRuns.Add(1); return nil })
			return s, nil
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- newSupervisor(factory).Start(ctx) }()

		Eventually(func() int64 { return instances.Load() }, "3s").Should(Equal(int64(2)))
		Eventually(func() int64 { return healthyRuns.Load() }, "3s").Should(BeNumerically(">=", 2))
		cancel()
		Eventually(done, "3s").Should(Receive(BeNil()))
	})

	It("closes the crashed instance's resources before restarting", func() {
		var closed atomic.Int64
		var instances atomic.Int64
		factory := func(ctx context.Context) (*scheduler.Scheduler, error) {
			n := instances.Add(1)
			s := scheduler.New(zap.NewNop(), clock.RealClock{})
			s.AddCloser(func(ctx context.Context) error { closed.Add(1); return nil })
			if n == 1 {
				s.AddSchedule("doomed", &panicTrigger{},
					func(ctx context.Context) error { return nil })
			}
			return s, nil
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- newSupervisor(factory).Start(ctx) }()

		Eventually(func() int64 { return closed.Load() }, "3s").Should(Equal(int64(1)))
		cancel()
		Eventually(done, "3s").Should(Receive(BeNil()))
		Expect(closed.Load()).To(Equal(int64(2)))
	})

	It("gives up after exhausting the restart budget", func() {
		var instances atomic.Int64
		factory := func(ctx context.Context) (*scheduler.Scheduler, error) {
			instances.Add(1)
			s := scheduler.New(zap.NewNop(), clock.RealClock{})
			s.AddSchedule("doomed", &panicTrigger{},
				func(ctx context.Context) error { return nil })
			return s, nil
		}
		supervisor := newSupervisor(factory)
		supervisor.MaxRestartAttempts = 2

		err := supervisor.Start(context.Background())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("giving up"))
		Expect(instances.Load()).To(Equal(int64(3)))
	})
})
