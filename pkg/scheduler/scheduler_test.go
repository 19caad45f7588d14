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
	"fmt"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/forecastarena/arena/pkg/scheduler"
)

var _ = Describe("Scheduler", func() {
	var s *scheduler.Scheduler
	var ctx context.Context
	var cancel context.CancelFunc
	var done chan error

	BeforeEach(func() {
		s = scheduler.New(zap.NewNop(), clock.RealClock{})
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() { done <- s.Run(ctx, time.Second) }()
	})
	AfterEach(func() {
		cancel()
		Eventually(done, "2s").Should(Receive())
	})

	It("fires interval schedules repeatedly", func() {
		var runs atomic.Int64
		s.AddSchedule("tick", scheduler.NewIntervalTrigger(10*time.Millisecond, time.Time{}),
			func(ctx context.Context) error { runs.Add(1); return nil })
		Eventually(func() int64 { return runs.Load() }, "2s").Should(BeNumerically(">=", 3))
	})

	It("fires one-shot schedules exactly once", func() {
		var runs atomic.Int64
		s.AddSchedule("once", scheduler.NewOneShotTrigger(time.Now().Add(10*time.Millisecond)),
			func(ctx context.Context) error { runs.Add(1); return nil })
		Eventually(func() int64 { return runs.Load() }, "2s").Should(Equal(int64(1)))
		Consistently(func() int64 { return runs.Load() }, "100ms").Should(Equal(int64(1)))
	})

	It("upserts schedules by id", func() {
		var oldRuns, newRuns atomic.Int64
		s.AddSchedule("job", scheduler.NewIntervalTrigger(time.Hour, time.Time{}),
			func(ctx context.Context) error { oldRuns.Add(1); return nil })
		s.AddSchedule("job", scheduler.NewIntervalTrigger(10*time.Millisecond, time.Time{}),
			func(ctx context.Context) error { newRuns.Add(1); return nil })
		Eventually(func() int64 { return newRuns.Load() }, "2s").Should(BeNumerically(">=", 1))
		Expect(oldRuns.Load()).To(BeZero())
	})

	It("skips fires while a schedule is at its running cap", func() {
		release := make(chan struct{})
		var started atomic.Int64
		s.AddSchedule("slow", scheduler.NewIntervalTrigger(10*time.Millisecond, time.Time{}),
			func(ctx context.Context) error {
				started.Add(1)
				<-release
				return nil
			}, scheduler.WithMaxRunning(1))
		Eventually(func() int64 { return started.Load() }, "2s").Should(Equal(int64(1)))
		Consistently(func() int64 { return started.Load() }, "100ms").Should(Equal(int64(1)))
		close(release)
		Eventually(func() int64 { return started.Load() }, "2s").Should(BeNumerically(">=", 2))
	})

	It("contains task errors and panics inside the error boundary", func() {
		var runs atomic.Int64
		s.AddSchedule("flaky", scheduler.NewIntervalTrigger(10*time.Millisecond, time.Time{}),
			func(ctx context.Context) error {
				switch runs.Add(1) {
				case 1:
					return fmt.Errorf("transient failure")
				case 2:
					panic("boom")
				}
				return nil
			})
		Eventually(func() int64 { return runs.Load() }, "2s").Should(BeNumerically(">=", 3))
		Expect(done).ToNot(Receive())
	})

	It("drops removed schedules", func() {
		var runs atomic.Int64
		s.AddSchedule("gone", scheduler.NewIntervalTrigger(20*time.Millisecond, time.Time{}),
			func(ctx context.Context) error { runs.Add(1); return nil })
		s.RemoveSchedule("gone")
		Consistently(func() int64 { return runs.Load() }, "100ms").Should(BeZero())
	})

	It("skips elapsed fires beyond the misfire grace", func() {
		var runs atomic.Int64
		s.AddSchedule("stale", scheduler.NewOneShotTrigger(time.Now().Add(-time.Hour)),
			func(ctx context.Context) error { runs.Add(1); return nil },
			scheduler.WithMisfireGrace(time.Minute))
		Consistently(func() int64 { return runs.Load() }, "100ms").Should(BeZero())
	})
})
