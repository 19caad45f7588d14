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
	"math"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/storage"
)

// Metrics is the pure evaluation result for one (model, series) pair.
type Metrics struct {
	MASE           float64
	RMSE           float64
	EvaluatedCount int
	DataCoverage   float64
	Status         apis.EvaluationStatus
}

// ComputeMetrics scores aligned forecast/actual pairs against the naive
// baseline, which repeats the last context value.
//
//	rmse = sqrt(mean((pred - actual)^2))
//	mase = mae_model / mae_naive, 0 when both are 0, +Inf when only the
//	       naive error is 0
//
// Coverage relates evaluated pairs to uploaded forecasts; full coverage
// completes the evaluation, anything between is partial.
func ComputeMetrics(pairs []storage.AlignedPair, baseline float64, forecastCount int) Metrics {
	if len(pairs) == 0 {
		return Metrics{Status: apis.EvaluationNoOverlap}
	}
	var squaredSum, maeModel, maeNaive float64
	for _, pair := range pairs {
		diff := pair.Predicted - pair.Actual
		squaredSum += diff * diff
		maeModel += math.Abs(pair.Actual - pair.Predicted)
		maeNaive += math.Abs(pair.Actual - baseline)
	}
	n := float64(len(pairs))
	maeModel /= n
	maeNaive /= n

	var mase float64
	switch {
	case maeNaive > 0:
		mase = maeModel / maeNaive
	case maeModel == 0:
		mase = 0
	default:
		mase = math.Inf(1)
	}

	coverage := 0.0
	if forecastCount > 0 {
		coverage = float64(len(pairs)) / float64(forecastCount)
	}
	status := apis.EvaluationPending
	switch {
	case coverage >= 1.0:
		status = apis.EvaluationComplete
	case coverage > 0:
		status = apis.EvaluationPartial
	}
	return Metrics{
		MASE:           mase,
		RMSE:           math.Sqrt(squaredSum / n),
		EvaluatedCount: len(pairs),
		DataCoverage:   coverage,
		Status:         status,
	}
}
