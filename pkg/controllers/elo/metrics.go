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

package elo

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/forecastarena/arena/pkg/metrics"
)

var calculationSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "elo",
		Name:      "calculation_duration_seconds",
		Help:      "Duration of one bootstrap calculation over a scope and window.",
		Buckets:   metrics.DurationBuckets(),
	},
)

func init() {
	metrics.Registry.MustRegister(calculationSeconds)
}
