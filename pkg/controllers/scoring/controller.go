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

// Package scoring evaluates uploaded forecasts against observed actuals
// and finalizes round scores once the round has settled.
package scoring

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/scheduler"
	"github.com/forecastarena/arena/pkg/storage"
)

// TriggerID is the periodic evaluation schedule id.
const TriggerID = "periodic_challenge_scores_evaluation"

// evaluationCron fires every ten minutes on the minute.
const evaluationCron = "*/10 * * * *"

// Scores is the score store surface the controller needs.
type Scores interface {
	RoundsNeedingEvaluation(ctx context.Context) ([]int64, error)
	UpsertBatch(ctx context.Context, scores []apis.Score) error
	Finalize(ctx context.Context, roundID int64) (bool, error)
}

// Forecasts is the read side of the externally-owned forecasts table.
type Forecasts interface {
	Participants(ctx context.Context, roundID int64) ([]int64, error)
	Stats(ctx context.Context, roundID, modelID, seriesID int64) (storage.ForecastStats, error)
	AlignedPairs(ctx context.Context, roundID, modelID, seriesID int64, resolution apis.Resolution) ([]storage.AlignedPair, error)
}

// Rounds is the round store surface the controller needs.
type Rounds interface {
	Get(ctx context.Context, roundID int64) (*apis.ChallengeRound, error)
	RoundSeries(ctx context.Context, roundID int64) ([]apis.RoundSeries, error)
	ContextValueAt(ctx context.Context, roundID, seriesID int64, ts time.Time) (float64, error)
}

type Controller struct {
	scores    Scores
	forecasts Forecasts
	rounds    Rounds
	clock     clock.Clock
	log       *zap.Logger
}

func NewController(scores Scores, forecasts Forecasts, rounds Rounds, clk clock.Clock, log *zap.Logger) *Controller {
	return &Controller{
		scores:    scores,
		forecasts: forecasts,
		rounds:    rounds,
		clock:     clk,
		log:       log.Named("scoring"),
	}
}

// Register adds the periodic evaluation job. A single instance runs at
// a time; a pass that outlives its interval simply absorbs the next
// fire.
func (c *Controller) Register(s *scheduler.Scheduler) error {
	trigger, err := scheduler.NewCronTrigger(evaluationCron)
	if err != nil {
		return err
	}
	s.AddSchedule(TriggerID, trigger, c.EvaluateAll, scheduler.WithMaxRunning(1))
	return nil
}

// EvaluateAll scores every round needing evaluation. Rounds are
// isolated from each other, so one failing round cannot stall the rest.
func (c *Controller) EvaluateAll(ctx context.Context) error {
	roundIDs, err := c.scores.RoundsNeedingEvaluation(ctx)
	if err != nil {
		return err
	}
	for _, roundID := range roundIDs {
		if err := c.evaluateRound(ctx, roundID); err != nil {
			c.log.Error("round evaluation failed", zap.Int64("round-id", roundID), zap.Error(err))
			continue
		}
		finalized, err := c.scores.Finalize(ctx, roundID)
		if err != nil {
			c.log.Error("round finalization failed", zap.Int64("round-id", roundID), zap.Error(err))
			continue
		}
		if finalized {
			roundsFinalized.Inc()
		}
	}
	return nil
}

func (c *Controller) evaluateRound(ctx context.Context, roundID int64) error {
	round, err := c.rounds.Get(ctx, roundID)
	if err != nil {
		return err
	}
	resolution, ok := apis.ResolutionForFrequency(round.Frequency)
	if !ok {
		c.log.Warn("no resolution matches the round frequency, defaulting to 1h",
			zap.Int64("round-id", roundID), zap.String("frequency", round.Frequency.String()))
	}
	series, err := c.rounds.RoundSeries(ctx, roundID)
	if err != nil {
		return err
	}
	participants, err := c.forecasts.Participants(ctx, roundID)
	if err != nil {
		return err
	}
	var scores []apis.Score
	for _, modelID := range participants {
		for _, rs := range series {
			scores = append(scores, c.evaluatePair(ctx, roundID, modelID, rs, resolution))
		}
	}
	evaluationsTotal.Add(float64(len(scores)))
	return c.scores.UpsertBatch(ctx, scores)
}

// evaluatePair scores one (model, series) pair. Failures become an
// error-status score row rather than an error, so a broken series never
// blocks its round.
func (c *Controller) evaluatePair(ctx context.Context, roundID, modelID int64, rs apis.RoundSeries, resolution apis.Resolution) apis.Score {
	score := apis.Score{RoundID: roundID, ModelID: modelID, SeriesID: rs.SeriesID}
	stats, err := c.forecasts.Stats(ctx, roundID, modelID, rs.SeriesID)
	if err != nil {
		score.Status = apis.EvaluationError
		score.ErrorMessage = err.Error()
		return score
	}
	score.ForecastCount = stats.Count
	if stats.Count == 0 {
		score.Status = apis.EvaluationNoForecasts
		return score
	}
	// The naive baseline repeats the last context value participants saw.
	baseline, err := c.rounds.ContextValueAt(ctx, roundID, rs.SeriesID, rs.MaxTs)
	if err != nil {
		score.Status = apis.EvaluationError
		score.ErrorMessage = err.Error()
		return score
	}
	pairs, err := c.forecasts.AlignedPairs(ctx, roundID, modelID, rs.SeriesID, resolution)
	if err != nil {
		score.Status = apis.EvaluationError
		score.ErrorMessage = err.Error()
		return score
	}
	score.ActualCount = len(pairs)
	metrics := ComputeMetrics(pairs, baseline, stats.Count)
	score.Status = metrics.Status
	score.EvaluatedCount = metrics.EvaluatedCount
	score.DataCoverage = metrics.DataCoverage
	if metrics.Status == apis.EvaluationComplete || metrics.Status == apis.EvaluationPartial {
		mase, rmse := metrics.MASE, metrics.RMSE
		score.MASE = &mase
		score.RMSE = &rmse
	}
	return score
}
