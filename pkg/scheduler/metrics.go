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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/forecastarena/arena/pkg/metrics"
)

var (
	jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Number of job executions, partitioned by schedule id and result.",
		},
		[]string{"schedule", "result"},
	)
	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of job executions in seconds.",
			Buckets:   metrics.DurationBuckets(),
		},
		[]string{"schedule"},
	)
	jobMisfiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "scheduler",
			Name:      "job_misfires_total",
			Help:      "Number of fire times skipped because they elapsed beyond the misfire grace.",
		},
		[]string{"schedule"},
	)
	restartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "scheduler",
			Name:      "restarts_total",
			Help:      "Number of times the supervisor restarted a crashed scheduler.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(jobRunsTotal, jobDurationSeconds, jobMisfiresTotal, restartsTotal)
}
