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

package scoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/forecastarena/arena/pkg/metrics"
)

var (
	evaluationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "scoring",
			Name:      "evaluations_total",
			Help:      "Number of (model, series) evaluations performed.",
		},
	)
	roundsFinalized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "scoring",
			Name:      "rounds_finalized_total",
			Help:      "Number of rounds whose scores were finalized.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(evaluationsTotal, roundsFinalized)
}
