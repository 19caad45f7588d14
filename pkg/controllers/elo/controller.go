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
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/scheduler"
	"github.com/forecastarena/arena/pkg/storage"
)

// TriggerID is the periodic calculation schedule id.
const TriggerID = "periodic_elo_ranking_calculation"

// calculationCron fires four times a day, UTC.
const calculationCron = "0 0,6,12,18 * * *"

// windows are the trailing periods, in days, ranked besides all-time.
var windows = []int{7, 30, 90, 365}

// Store is the rating store surface the controller needs.
type Store interface {
	FinalMASE(ctx context.Context, definitionID *int64, window *time.Duration) ([]storage.MatchScore, error)
	UpsertRatings(ctx context.Context, ratings []apis.EloRating) error
	LatestCalculation(ctx context.Context) (time.Time, error)
}

// Definitions lists the per-definition ranking scopes.
type Definitions interface {
	ListActive(ctx context.Context) ([]*apis.ChallengeDefinition, error)
}

type Controller struct {
	store       Store
	definitions Definitions
	opts        Options
	clock       clock.Clock
	log         *zap.Logger
	// runCache remembers the last completed calculation day so the
	// startup back-check never duplicates a run the cron already did.
	runCache *cache.Cache
}

func NewController(store Store, definitions Definitions, opts Options, clk clock.Clock, log *zap.Logger) *Controller {
	return &Controller{
		store:       store,
		definitions: definitions,
		opts:        opts,
		clock:       clk,
		log:         log.Named("elo"),
		runCache:    cache.New(24*time.Hour, time.Hour),
	}
}

// Register adds the periodic job and, when no calculation has happened
// today yet, a one-shot startup run. The bootstraps are CPU-heavy, so
// only one instance may run at a time.
func (c *Controller) Register(ctx context.Context, s *scheduler.Scheduler) error {
	trigger, err := scheduler.NewCronTrigger(calculationCron)
	if err != nil {
		return err
	}
	s.AddSchedule(TriggerID, trigger, c.CalculateAll, scheduler.WithMaxRunning(1))

	latest, err := c.store.LatestCalculation(ctx)
	if err != nil {
		return err
	}
	if latest.UTC().Truncate(24 * time.Hour).Equal(c.today()) {
		c.runCache.SetDefault(c.today().String(), true)
		return nil
	}
	s.AddSchedule(TriggerID+"_startup", scheduler.NewOneShotTrigger(c.clock.Now()),
		c.CalculateAll, scheduler.WithMaxRunning(1))
	return nil
}

// CalculateAll recomputes every scope x window combination. Scope
// failures are collected, not short-circuited, so one bad definition
// cannot starve the global ranking.
func (c *Controller) CalculateAll(ctx context.Context) error {
	if _, done := c.runCache.Get(c.today().String()); done {
		// A run already completed today; the periodic fire still
		// recomputes, only the startup back-check is redundant.
		c.log.Debug("ratings already calculated today")
	}
	var errs error
	errs = multierr.Append(errs, c.calculateScope(ctx, nil))
	definitions, err := c.definitions.ListActive(ctx)
	if err != nil {
		return multierr.Append(errs, err)
	}
	for _, def := range definitions {
		definitionID := def.ID
		errs = multierr.Append(errs, c.calculateScope(ctx, &definitionID))
	}
	if errs == nil {
		c.runCache.SetDefault(c.today().String(), true)
	}
	return errs
}

// calculateScope ranks one definition scope (nil means global) across
// the all-time window and every trailing window.
func (c *Controller) calculateScope(ctx context.Context, definitionID *int64) error {
	if err := c.calculate(ctx, definitionID, nil); err != nil {
		return err
	}
	for _, days := range windows {
		window := days
		if err := c.calculate(ctx, definitionID, &window); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) calculate(ctx context.Context, definitionID *int64, windowDays *int) error {
	var window *time.Duration
	if windowDays != nil {
		d := time.Duration(*windowDays) * 24 * time.Hour
		window = &d
	}
	scores, err := c.store.FinalMASE(ctx, definitionID, window)
	if err != nil {
		return err
	}
	started := c.clock.Now()
	ratings := Bootstrap(scores, c.opts)
	if len(ratings) == 0 {
		return nil
	}
	elapsed := c.clock.Since(started)
	calculationSeconds.Observe(elapsed.Seconds())

	rows := make([]apis.EloRating, 0, len(ratings))
	for _, r := range ratings {
		rows = append(rows, apis.EloRating{
			ModelID:             r.ModelID,
			DefinitionID:        definitionID,
			TimePeriodDays:      windowDays,
			Score:               r.Median,
			CiLower:             r.CiLower,
			CiUpper:             r.CiUpper,
			NMatches:            r.NMatches,
			NBootstraps:         c.opts.Bootstraps,
			CalculationDuration: elapsed,
		})
	}
	c.log.Info("ratings calculated",
		zap.Int("models", len(rows)),
		zap.Any("definition-id", definitionID),
		zap.Any("window-days", windowDays),
		zap.Duration("duration", elapsed))
	return c.store.UpsertRatings(ctx, rows)
}

func (c *Controller) today() time.Time {
	return c.clock.Now().UTC().Truncate(24 * time.Hour)
}
