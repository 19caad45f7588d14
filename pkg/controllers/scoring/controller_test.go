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

package scoring_test

import (
	"context"
	"fmt"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/controllers/scoring"
	"github.com/forecastarena/arena/pkg/storage"
	"github.com/forecastarena/arena/pkg/utils/duration"
)

var _ = Describe("ComputeMetrics", func() {
	pairs := func(values ...[2]float64) []storage.AlignedPair {
		out := make([]storage.AlignedPair, len(values))
		for i, v := range values {
			out[i] = storage.AlignedPair{Predicted: v[0], Actual: v[1]}
		}
		return out
	}

	It("computes RMSE and MASE against the naive baseline", func() {
		// Actuals 12, 14; baseline 10 -> mae_naive = 3.
		// Predictions off by 1 -> mae_model = 1.
		m := scoring.ComputeMetrics(pairs([2]float64{11, 12}, [2]float64{15, 14}), 10, 2)
		Expect(m.RMSE).To(BeNumerically("~", 1.0, 1e-9))
		Expect(m.MASE).To(BeNumerically("~", 1.0/3.0, 1e-9))
		Expect(m.Status).To(Equal(apis.EvaluationComplete))
		Expect(m.DataCoverage).To(Equal(1.0))
	})

	It("returns no_overlap for an empty join", func() {
		m := scoring.ComputeMetrics(nil, 10, 5)
		Expect(m.Status).To(Equal(apis.EvaluationNoOverlap))
	})

	It("returns zero MASE when both errors vanish", func() {
		// Forecast equals actual equals baseline.
		m := scoring.ComputeMetrics(pairs([2]float64{10, 10}), 10, 1)
		Expect(m.MASE).To(BeZero())
		Expect(m.Status).To(Equal(apis.EvaluationComplete))
	})

	It("returns infinite MASE when only the naive error vanishes", func() {
		m := scoring.ComputeMetrics(pairs([2]float64{12, 10}), 10, 1)
		Expect(math.IsInf(m.MASE, 1)).To(BeTrue())
	})

	It("marks partial coverage", func() {
		m := scoring.ComputeMetrics(pairs([2]float64{11, 12}), 10, 4)
		Expect(m.Status).To(Equal(apis.EvaluationPartial))
		Expect(m.DataCoverage).To(Equal(0.25))
	})
})

type fakeScores struct {
	needing   []int64
	upserted  []apis.Score
	finalized []int64
}

func (f *fakeScores) RoundsNeedingEvaluation(ctx context.Context) ([]int64, error) {
	return f.needing, nil
}
func (f *fakeScores) UpsertBatch(ctx context.Context, scores []apis.Score) error {
	f.upserted = append(f.upserted, scores...)
	return nil
}
func (f *fakeScores) Finalize(ctx context.Context, roundID int64) (bool, error) {
	f.finalized = append(f.finalized, roundID)
	return true, nil
}

type fakeForecasts struct {
	stats map[string]storage.ForecastStats
	pairs map[string][]storage.AlignedPair
}

func key(roundID, modelID, seriesID int64) string {
	return fmt.Sprintf("%d/%d/%d", roundID, modelID, seriesID)
}

func (f *fakeForecasts) Participants(ctx context.Context, roundID int64) ([]int64, error) {
	return []int64{1, 2}, nil
}
func (f *fakeForecasts) Stats(ctx context.Context, roundID, modelID, seriesID int64) (storage.ForecastStats, error) {
	return f.stats[key(roundID, modelID, seriesID)], nil
}
func (f *fakeForecasts) AlignedPairs(ctx context.Context, roundID, modelID, seriesID int64, resolution apis.Resolution) ([]storage.AlignedPair, error) {
	return f.pairs[key(roundID, modelID, seriesID)], nil
}

type fakeRoundReader struct {
	round     *apis.ChallengeRound
	series    []apis.RoundSeries
	baselines map[int64]float64
}

func (f *fakeRoundReader) Get(ctx context.Context, roundID int64) (*apis.ChallengeRound, error) {
	return f.round, nil
}
func (f *fakeRoundReader) RoundSeries(ctx context.Context, roundID int64) ([]apis.RoundSeries, error) {
	return f.series, nil
}
func (f *fakeRoundReader) ContextValueAt(ctx context.Context, roundID, seriesID int64, ts time.Time) (float64, error) {
	baseline, ok := f.baselines[seriesID]
	if !ok {
		return 0, fmt.Errorf("no context value for series %d", seriesID)
	}
	return baseline, nil
}

var _ = Describe("Controller", func() {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	It("scores every participant-series pair and finalizes", func() {
		scores := &fakeScores{needing: []int64{1}}
		forecasts := &fakeForecasts{
			stats: map[string]storage.ForecastStats{
				key(1, 1, 5): {Count: 2},
				key(1, 2, 5): {Count: 2},
			},
			pairs: map[string][]storage.AlignedPair{
				key(1, 1, 5): {{Predicted: 11, Actual: 12}, {Predicted: 15, Actual: 14}},
				// Model 2 uploaded forecasts that never align.
			},
		}
		roundReader := &fakeRoundReader{
			round: &apis.ChallengeRound{
				RoundID:   1,
				Frequency: duration.Hour,
				StartTime: now.Add(-24 * time.Hour),
				EndTime:   now.Add(-2 * time.Hour),
			},
			series:    []apis.RoundSeries{{RoundID: 1, SeriesID: 5, MaxTs: now.Add(-25 * time.Hour)}},
			baselines: map[int64]float64{5: 10},
		}
		controller := scoring.NewController(scores, forecasts, roundReader,
			testingclock.NewFakeClock(now), zap.NewNop())

		Expect(controller.EvaluateAll(context.Background())).To(Succeed())
		Expect(scores.upserted).To(HaveLen(2))

		byModel := map[int64]apis.Score{}
		for _, s := range scores.upserted {
			byModel[s.ModelID] = s
		}
		Expect(byModel[1].Status).To(Equal(apis.EvaluationComplete))
		Expect(*byModel[1].MASE).To(BeNumerically("~", 1.0/3.0, 1e-9))
		Expect(byModel[2].Status).To(Equal(apis.EvaluationNoOverlap))
		Expect(byModel[2].MASE).To(BeNil())
		Expect(scores.finalized).To(Equal([]int64{1}))
	})

	It("emits no_forecasts for silent models", func() {
		scores := &fakeScores{needing: []int64{1}}
		forecasts := &fakeForecasts{stats: map[string]storage.ForecastStats{}}
		roundReader := &fakeRoundReader{
			round:     &apis.ChallengeRound{RoundID: 1, Frequency: duration.Hour},
			series:    []apis.RoundSeries{{RoundID: 1, SeriesID: 5}},
			baselines: map[int64]float64{5: 10},
		}
		controller := scoring.NewController(scores, forecasts, roundReader,
			testingclock.NewFakeClock(now), zap.NewNop())

		Expect(controller.EvaluateAll(context.Background())).To(Succeed())
		for _, s := range scores.upserted {
			Expect(s.Status).To(Equal(apis.EvaluationNoForecasts))
		}
	})

	It("turns a missing baseline into an error-status row", func() {
		scores := &fakeScores{needing: []int64{1}}
		forecasts := &fakeForecasts{
			stats: map[string]storage.ForecastStats{
				key(1, 1, 5): {Count: 1},
				key(1, 2, 5): {Count: 1},
			},
		}
		roundReader := &fakeRoundReader{
			round:     &apis.ChallengeRound{RoundID: 1, Frequency: duration.Hour},
			series:    []apis.RoundSeries{{RoundID: 1, SeriesID: 5}},
			baselines: map[int64]float64{},
		}
		controller := scoring.NewController(scores, forecasts, roundReader,
			testingclock.NewFakeClock(now), zap.NewNop())

		Expect(controller.EvaluateAll(context.Background())).To(Succeed())
		Expect(scores.upserted).ToNot(BeEmpty())
		for _, s := range scores.upserted {
			Expect(s.Status).To(Equal(apis.EvaluationError))
			Expect(s.ErrorMessage).To(ContainSubstring("no context value"))
		}
	})
})
