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

// Package rounds materializes challenge rounds from their definitions
// and prepares the pseudonymized context data participants see.
package rounds

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/config"
	"github.com/forecastarena/arena/pkg/scheduler"
	"github.com/forecastarena/arena/pkg/storage"
)

// availabilityWindow bounds how stale a series may be to qualify for
// random sampling during preparation.
const availabilityWindow = 7 * 24 * time.Hour

// Definitions is the definition registry surface the controller needs.
type Definitions interface {
	Upsert(ctx context.Context, def apis.ChallengeDefinition) (int64, bool, error)
	ReconcileAssignments(ctx context.Context, definitionID int64, desired []storage.AssignmentSpec) error
	Get(ctx context.Context, id int64) (*apis.ChallengeDefinition, error)
}

// Rounds is the round store surface the controller needs.
type Rounds interface {
	Create(ctx context.Context, round *apis.ChallengeRound) (int64, bool, error)
	Get(ctx context.Context, roundID int64) (*apis.ChallengeRound, error)
	PendingPreparations(ctx context.Context) ([]*apis.ChallengeRound, error)
	SelectCandidateSeries(ctx context.Context, f storage.CandidateFilter) ([]int64, error)
	SaveContext(ctx context.Context, round *apis.ChallengeRound, resolution apis.Resolution, selections []storage.SeriesSelection) error
}

// SeriesNames resolves display names for required series, which stay
// plaintext in the round.
type SeriesNames interface {
	Names(ctx context.Context, seriesIDs []int64) (map[int64]string, error)
}

type Controller struct {
	definitions Definitions
	rounds      Rounds
	series      SeriesNames
	clock       clock.Clock
	log         *zap.Logger
}

func NewController(definitions Definitions, rounds Rounds, series SeriesNames, clk clock.Clock, log *zap.Logger) *Controller {
	return &Controller{
		definitions: definitions,
		rounds:      rounds,
		series:      series,
		clock:       clk,
		log:         log.Named("rounds"),
	}
}

// SyncDefinitions upserts every definition from the schedule file,
// reconciles its required-series assignments, and registers its cron
// trigger. Definitions with runOnStartup also fire once immediately.
func (c *Controller) SyncDefinitions(ctx context.Context, s *scheduler.Scheduler, file *config.ScheduleFile) error {
	for _, entry := range file.Schedules {
		def := entry.Definition()
		id, changed, err := c.definitions.Upsert(ctx, def)
		if err != nil {
			return err
		}
		desired := lo.Map(def.RequiredSeries, func(seriesID int64, _ int) storage.AssignmentSpec {
			return storage.AssignmentSpec{SeriesID: seriesID, IsRequired: true}
		})
		if err := c.definitions.ReconcileAssignments(ctx, id, desired); err != nil {
			return err
		}
		if changed {
			c.log.Info("definition updated", zap.String("schedule-id", def.ScheduleID), zap.Int64("definition-id", id))
		}
		trigger, err := scheduler.NewCronTrigger(def.CronExpression)
		if err != nil {
			return fmt.Errorf("definition %q: %w", def.ScheduleID, err)
		}
		definitionID := id
		s.AddSchedule(def.ScheduleID, trigger, func(ctx context.Context) error {
			_, err := c.CreateRoundFromDefinition(ctx, s, definitionID)
			return err
		})
		if def.RunOnStartup {
			s.AddSchedule(def.ScheduleID+"_startup", scheduler.NewOneShotTrigger(c.clock.Now()),
				func(ctx context.Context) error {
					_, err := c.CreateRoundFromDefinition(ctx, s, definitionID)
					return err
				})
		}
	}
	return nil
}

// CreateRoundFromDefinition cuts a round at now and registers its
// one-shot preparation job at registration start. Creation is
// idempotent on the round name, so a cron trigger firing twice within a
// second yields one round. A nil scheduler skips the registration,
// which only makes sense in tests.
func (c *Controller) CreateRoundFromDefinition(ctx context.Context, s *scheduler.Scheduler, definitionID int64) (int64, error) {
	def, err := c.definitions.Get(ctx, definitionID)
	if err != nil {
		return 0, err
	}
	now := c.clock.Now().UTC()
	round := NewRound(def, now)
	roundID, created, err := c.rounds.Create(ctx, round)
	if err != nil {
		return 0, err
	}
	if !created {
		c.log.Info("round already exists", zap.Int64("round-id", roundID), zap.String("name", round.Name))
		return roundID, nil
	}
	roundsCreated.WithLabelValues(def.ScheduleID).Inc()
	c.log.Info("round created",
		zap.Int64("round-id", roundID),
		zap.String("name", round.Name),
		zap.Time("registration-start", round.RegistrationStart),
		zap.Time("start-time", round.StartTime),
		zap.Time("end-time", round.EndTime))
	if s != nil {
		c.schedulePreparation(s, roundID, round.RegistrationStart)
	}
	return roundID, nil
}

// RecoverPendingPreparations re-registers preparation one-shots for
// rounds that were created but never prepared, e.g. across a process
// restart. Elapsed registration starts fire immediately.
func (c *Controller) RecoverPendingPreparations(ctx context.Context, s *scheduler.Scheduler) error {
	pending, err := c.rounds.PendingPreparations(ctx)
	if err != nil {
		return err
	}
	for _, round := range pending {
		c.log.Info("recovering unprepared round",
			zap.Int64("round-id", round.RoundID),
			zap.Time("registration-start", round.RegistrationStart))
		c.schedulePreparation(s, round.RoundID, round.RegistrationStart)
	}
	return nil
}

// PrepareTriggerID names the one-shot preparation schedule of a round.
func PrepareTriggerID(roundID int64) string {
	return fmt.Sprintf("prepare_challenge_%d", roundID)
}

func (c *Controller) schedulePreparation(s *scheduler.Scheduler, roundID int64, at time.Time) {
	s.AddSchedule(PrepareTriggerID(roundID), scheduler.NewOneShotTrigger(at),
		func(ctx context.Context) error {
			return c.PrepareRoundContextData(ctx, roundID)
		})
}

// PrepareRoundContextData resolves the round's series selection and
// snapshots their context windows. Required series keep their plaintext
// names; sampled series get a pseudonym so participants cannot identify
// them.
func (c *Controller) PrepareRoundContextData(ctx context.Context, roundID int64) error {
	round, err := c.rounds.Get(ctx, roundID)
	if err != nil {
		return err
	}
	params := round.PreparationParams
	resolution, ok := apis.ResolutionForFrequency(params.Frequency)
	if !ok {
		c.log.Warn("no resolution matches the round frequency, defaulting to 1h",
			zap.Int64("round-id", roundID), zap.String("frequency", params.Frequency.String()))
	}

	names, err := c.series.Names(ctx, params.RequiredSeries)
	if err != nil {
		return err
	}
	selections := make([]storage.SeriesSelection, 0, params.NSeries)
	for _, seriesID := range params.RequiredSeries {
		name, ok := names[seriesID]
		if !ok {
			c.log.Warn("required series does not exist, skipping",
				zap.Int64("round-id", roundID), zap.Int64("series-id", seriesID))
			continue
		}
		selections = append(selections, storage.SeriesSelection{SeriesID: seriesID, ChallengeSeriesName: name})
	}

	sampled, err := c.rounds.SelectCandidateSeries(ctx, storage.CandidateFilter{
		Domain:       params.Domain,
		Subdomain:    params.Subdomain,
		Frequency:    params.Frequency.Std(),
		Resolution:   resolution,
		RecentWithin: availabilityWindow,
		Exclude:      params.RequiredSeries,
		Limit:        params.NSeries - len(selections),
	})
	if err != nil {
		return err
	}
	for _, seriesID := range sampled {
		selections = append(selections, storage.SeriesSelection{
			SeriesID:            seriesID,
			ChallengeSeriesName: Pseudonym(roundID, seriesID),
		})
	}
	if len(selections) < params.NSeries {
		c.log.Warn("insufficient candidate series, continuing with fewer",
			zap.Int64("round-id", roundID),
			zap.Int("selected", len(selections)),
			zap.Int("wanted", params.NSeries))
	}
	if len(selections) == 0 {
		return fmt.Errorf("round %d has no usable series", roundID)
	}
	return c.rounds.SaveContext(ctx, round, resolution, selections)
}
