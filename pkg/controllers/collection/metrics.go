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

package collection

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/forecastarena/arena/pkg/metrics"
)

var (
	collectionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "collection",
			Name:      "runs_total",
			Help:      "Number of collection runs, partitioned by series or group and result.",
		},
		[]string{metrics.SeriesLabel, metrics.ResultLabel},
	)
	pointsCollected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "collection",
			Name:      "points_total",
			Help:      "Number of data points fetched from upstream sources.",
		},
		[]string{metrics.SeriesLabel},
	)
)

func init() {
	metrics.Registry.MustRegister(collectionRunsTotal, pointsCollected)
}
