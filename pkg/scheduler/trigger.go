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
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger yields fire instants for a schedule. Next returns the next
// fire instant, or the zero time when the trigger is exhausted. The
// returned instant may lie before t when fire times elapsed while the
// process was down; the scheduler coalesces those and applies the
// misfire grace. Triggers are owned by a single schedule and need not
// be safe for concurrent use.
type Trigger interface {
	Next(t time.Time) time.Time
}

type cronTrigger struct {
	schedule cron.Schedule
}

// NewCronTrigger parses a standard five-field cron expression evaluated
// in UTC.
func NewCronTrigger(expression string) (Trigger, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q: %w", expression, err)
	}
	return &cronTrigger{schedule: schedule}, nil
}

func (c *cronTrigger) Next(t time.Time) time.Time {
	return c.schedule.Next(t.UTC())
}

type intervalTrigger struct {
	every time.Duration
	start time.Time
}

// NewIntervalTrigger fires every interval, phase-aligned to start. A zero
// start aligns to the first Next call.
func NewIntervalTrigger(every time.Duration, start time.Time) Trigger {
	return &intervalTrigger{every: every, start: start}
}

func (i *intervalTrigger) Next(t time.Time) time.Time {
	start := i.start
	if start.IsZero() {
		i.start = t
		return t.Add(i.every)
	}
	if t.Before(start) {
		return start
	}
	elapsed := t.Sub(start)
	n := elapsed/i.every + 1
	return start.Add(n * i.every)
}

type oneShotTrigger struct {
	at    time.Time
	fired bool
}

// NewOneShotTrigger fires exactly once at the given instant. An instant
// in the past fires immediately, subject to the schedule's misfire grace.
func NewOneShotTrigger(at time.Time) Trigger {
	return &oneShotTrigger{at: at}
}

func (o *oneShotTrigger) Next(t time.Time) time.Time {
	if o.fired {
		return time.Time{}
	}
	o.fired = true
	return o.at
}
