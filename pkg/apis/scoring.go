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

package apis

import (
	"time"
)

// EvaluationStatus is the per-(model, series) outcome of one evaluation pass.
type EvaluationStatus string

const (
	EvaluationPending     EvaluationStatus = "pending"
	EvaluationNoForecasts EvaluationStatus = "no_forecasts"
	EvaluationNoOverlap   EvaluationStatus = "no_overlap"
	EvaluationPartial     EvaluationStatus = "partial"
	EvaluationComplete    EvaluationStatus = "complete"
	EvaluationError       EvaluationStatus = "error"
)

// Score is the evaluation result for one (round, model, series) triple.
// MASE and RMSE are nil until an evaluation has produced metrics.
type Score struct {
	RoundID         int64
	ModelID         int64
	SeriesID        int64
	MASE            *float64
	RMSE            *float64
	ForecastCount   int
	ActualCount     int
	EvaluatedCount  int
	DataCoverage    float64
	Status          EvaluationStatus
	ErrorMessage    string
	FinalEvaluation bool
	CalculatedAt    time.Time
}

// EloRating is one bootstrapped rating row. DefinitionID nil means the
// global scope; TimePeriodDays nil means all-time. The store maps the nils
// onto the -1/0 sentinels that carry the logical uniqueness constraint.
type EloRating struct {
	ModelID             int64
	DefinitionID        *int64
	TimePeriodDays      *int
	Score               float64
	CiLower             float64
	CiUpper             float64
	NMatches            int
	NBootstraps         int
	CalculationDuration time.Duration
	CalculatedAt        time.Time
}

// Forecast is the read-side shape of an uploaded prediction. The upload
// service owns writes; the core only consumes them.
type Forecast struct {
	RoundID             int64
	ModelID             int64
	SeriesID            int64
	Ts                  time.Time
	PredictedValue      float64
	ProbabilisticValues map[string]float64
}
