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

// Package collection wires source adapters to the time-series sink. One
// interval job per adapter fetches, imputes and persists; a bounded
// semaphore keeps the jobs from exhausting the connection pool.
package collection

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/forecastarena/arena/pkg/adapters"
	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/imputation"
	"github.com/forecastarena/arena/pkg/scheduler"
)

const (
	// DefaultMaxConcurrent matches the recommended pool size so a full
	// collection burst cannot starve other components.
	DefaultMaxConcurrent = 10
	// DefaultLookback sizes the fetch window in update-frequency
	// multiples.
	DefaultLookback = 1000

	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	misfireGrace      = 5 * time.Minute
	startupBatchSize  = 5
	startupBatchPause = 2 * time.Second
)

// Sink is the slice of the series store the controller writes through.
type Sink interface {
	GetOrCreate(ctx context.Context, md apis.SeriesMetadata) (int64, error)
	UpdateTimezone(ctx context.Context, seriesID int64, timezone string) error
	UpsertOperational(ctx context.Context, seriesID int64, points []apis.DataPoint) (int64, error)
	UpsertHistory(ctx context.Context, seriesID int64, points []apis.QualityPoint) (apis.SinkResult, error)
	RefreshAvailability(ctx context.Context, seriesID int64) error
}

type Options struct {
	MaxConcurrent int
	MaxRetries    int
	RetryDelay    time.Duration
	Lookback      int
	Imputation    imputation.Options
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrent: DefaultMaxConcurrent,
		MaxRetries:    defaultMaxRetries,
		RetryDelay:    defaultRetryDelay,
		Lookback:      DefaultLookback,
		Imputation:    imputation.DefaultOptions(),
	}
}

// Controller owns the registered adapters and their collection jobs.
type Controller struct {
	sink     Sink
	opts     Options
	sem      *semaphore.Weighted
	clock    clock.Clock
	log      *zap.Logger
	adapters []adapters.Adapter
	groups   []adapters.MultiAdapter
}

func NewController(sink Sink, opts Options, clk clock.Clock, log *zap.Logger) *Controller {
	return &Controller{
		sink:  sink,
		opts:  opts,
		sem:   semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		clock: clk,
		log:   log.Named("collection"),
	}
}

// RegisterAdapter adds a single-series adapter and schedules it at its
// update frequency. Overlapping runs of the same job are disallowed;
// fires missed beyond the grace are coalesced away.
func (c *Controller) RegisterAdapter(s *scheduler.Scheduler, adapter adapters.Adapter) {
	c.adapters = append(c.adapters, adapter)
	md := adapter.Metadata()
	s.AddSchedule("collect_"+md.UniqueID,
		scheduler.NewIntervalTrigger(md.UpdateFrequency.Std(), time.Time{}),
		func(ctx context.Context) error {
			c.collectSingle(ctx, adapter)
			return nil
		},
		scheduler.WithMaxRunning(1),
		scheduler.WithMisfireGrace(misfireGrace),
	)
}

// RegisterMultiAdapter adds a request group and schedules it at the
// group's own cadence.
func (c *Controller) RegisterMultiAdapter(s *scheduler.Scheduler, group adapters.MultiAdapter) {
	c.groups = append(c.groups, group)
	s.AddSchedule("collect_group_"+group.GroupID(),
		scheduler.NewIntervalTrigger(group.Schedule().Std(), time.Time{}),
		func(ctx context.Context) error {
			c.collectMulti(ctx, group)
			return nil
		},
		scheduler.WithMaxRunning(1),
		scheduler.WithMisfireGrace(misfireGrace),
	)
}

// InitialFetch runs one collection for every registered adapter before
// the interval loop takes over. Single-series adapters run in batches
// with a pause between them; request groups run sequentially since each
// already fans out to many series.
func (c *Controller) InitialFetch(ctx context.Context) {
	c.log.Info("running initial fetch",
		zap.Int("adapters", len(c.adapters)), zap.Int("groups", len(c.groups)))
	for start := 0; start < len(c.adapters); start += startupBatchSize {
		batch := c.adapters[start:min(start+startupBatchSize, len(c.adapters))]
		done := make(chan struct{}, len(batch))
		for _, adapter := range batch {
			go func(adapter adapters.Adapter) {
				defer func() { done <- struct{}{} }()
				c.collectSingle(ctx, adapter)
			}(adapter)
		}
		for range batch {
			<-done
		}
		if start+startupBatchSize < len(c.adapters) {
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(startupBatchPause):
			}
		}
	}
	for _, group := range c.groups {
		c.collectMulti(ctx, group)
	}
}

// collectSingle is one fetch-impute-persist pass. Failures are logged
// and swallowed so the schedule keeps running.
func (c *Controller) collectSingle(ctx context.Context, adapter adapters.Adapter) {
	md := adapter.Metadata()
	log := c.log.With(zap.String("series", md.UniqueID))
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer c.sem.Release(1)

	start := c.clock.Now().Add(-time.Duration(c.opts.Lookback) * md.UpdateFrequency.Std())
	var points []apis.DataPoint
	err := c.retry(ctx, func() error {
		var fetchErr error
		points, fetchErr = adapter.FetchHistorical(ctx, start, nil)
		return fetchErr
	})
	if err != nil {
		collectionRunsTotal.WithLabelValues(md.UniqueID, "error").Inc()
		log.Error("collection failed", zap.Error(err))
		return
	}
	if err := c.persist(ctx, md, adapter.Timezone(), points, log); err != nil {
		collectionRunsTotal.WithLabelValues(md.UniqueID, "error").Inc()
		log.Error("persisting collected data failed", zap.Error(err))
		return
	}
	collectionRunsTotal.WithLabelValues(md.UniqueID, "success").Inc()
}

func (c *Controller) collectMulti(ctx context.Context, group adapters.MultiAdapter) {
	log := c.log.With(zap.String("group", group.GroupID()))
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer c.sem.Release(1)

	// The fetch window derives from the slowest series in the group so
	// one call covers everyone's lookback.
	window := group.Schedule()
	for _, definition := range group.SeriesDefinitions() {
		window = max(window, definition.Metadata.UpdateFrequency)
	}
	start := c.clock.Now().Add(-time.Duration(c.opts.Lookback) * window.Std())

	var bySeries map[string][]apis.DataPoint
	err := c.retry(ctx, func() error {
		var fetchErr error
		bySeries, fetchErr = group.FetchHistoricalMulti(ctx, start, nil)
		return fetchErr
	})
	if err != nil {
		collectionRunsTotal.WithLabelValues(group.GroupID(), "error").Inc()
		log.Error("group collection failed", zap.Error(err))
		return
	}
	failed := false
	for _, definition := range group.SeriesDefinitions() {
		md := definition.Metadata
		if err := c.persist(ctx, md, "", bySeries[md.UniqueID], log.With(zap.String("series", md.UniqueID))); err != nil {
			failed = true
			log.Error("persisting collected data failed",
				zap.String("series", md.UniqueID), zap.Error(err))
		}
	}
	if failed {
		collectionRunsTotal.WithLabelValues(group.GroupID(), "error").Inc()
		return
	}
	collectionRunsTotal.WithLabelValues(group.GroupID(), "success").Inc()
}

// persist resolves the series, runs imputation, and writes both the
// operational table (observed values only) and the SCD2 history (all
// points, null markers included).
func (c *Controller) persist(ctx context.Context, md apis.SeriesMetadata, timezone string, points []apis.DataPoint, log *zap.Logger) error {
	seriesID, err := c.sink.GetOrCreate(ctx, md)
	if err != nil {
		return err
	}
	if timezone != "" {
		if err := c.sink.UpdateTimezone(ctx, seriesID, timezone); err != nil {
			return err
		}
	}
	if len(points) == 0 {
		log.Debug("no new data")
		return nil
	}
	result := imputation.Impute(points, md.Frequency, c.opts.Imputation)
	operational := make([]apis.DataPoint, 0, len(points))
	for _, p := range result.Points {
		if p.Value != nil {
			operational = append(operational, apis.DataPoint{Ts: p.Ts, Value: *p.Value})
		}
	}
	if _, err := c.sink.UpsertOperational(ctx, seriesID, operational); err != nil {
		return err
	}
	sinkResult, err := c.sink.UpsertHistory(ctx, seriesID, result.Points)
	if err != nil {
		return err
	}
	if err := c.sink.RefreshAvailability(ctx, seriesID); err != nil {
		return err
	}
	pointsCollected.WithLabelValues(md.UniqueID).Add(float64(len(points)))
	log.Debug("collected",
		zap.Int("fetched", len(points)),
		zap.Int("interpolated", result.Interpolated),
		zap.Int("null-markers", result.NullMarkers),
		zap.Int64("inserted", sinkResult.Inserted),
		zap.Int64("updated", sinkResult.Updated),
		zap.Int64("unchanged", sinkResult.Unchanged))
	return nil
}

func (c *Controller) retry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(uint(c.opts.MaxRetries)+1),
		retry.Delay(c.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
