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

package collection_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/forecastarena/arena/pkg/adapters"
	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/controllers/collection"
	"github.com/forecastarena/arena/pkg/scheduler"
	"github.com/forecastarena/arena/pkg/utils/duration"
)

type fakeSink struct {
	mu           sync.Mutex
	nextSeriesID int64
	seriesIDs    map[string]int64
	timezones    map[int64]string
	operational  map[int64][]apis.DataPoint
	history      map[int64][]apis.QualityPoint
	refreshed    map[int64]int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		seriesIDs:   map[string]int64{},
		timezones:   map[int64]string{},
		operational: map[int64][]apis.DataPoint{},
		history:     map[int64][]apis.QualityPoint{},
		refreshed:   map[int64]int{},
	}
}

func (f *fakeSink) GetOrCreate(ctx context.Context, md apis.SeriesMetadata) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.seriesIDs[md.UniqueID]; ok {
		return id, nil
	}
	f.nextSeriesID++
	f.seriesIDs[md.UniqueID] = f.nextSeriesID
	return f.nextSeriesID, nil
}

func (f *fakeSink) UpdateTimezone(ctx context.Context, seriesID int64, timezone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timezones[seriesID] = timezone
	return nil
}

func (f *fakeSink) UpsertOperational(ctx context.Context, seriesID int64, points []apis.DataPoint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operational[seriesID] = append(f.operational[seriesID], points...)
	return int64(len(points)), nil
}

func (f *fakeSink) UpsertHistory(ctx context.Context, seriesID int64, points []apis.QualityPoint) (apis.SinkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[seriesID] = append(f.history[seriesID], points...)
	return apis.SinkResult{Inserted: int64(len(points))}, nil
}

func (f *fakeSink) RefreshAvailability(ctx context.Context, seriesID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed[seriesID]++
	return nil
}

type fakeAdapter struct {
	mu       sync.Mutex
	metadata apis.SeriesMetadata
	points   []apis.DataPoint
	timezone string
	failures int
	starts   []time.Time
	calls    int
}

func (a *fakeAdapter) Metadata() apis.SeriesMetadata { return a.metadata }
func (a *fakeAdapter) Timezone() string              { return a.timezone }

func (a *fakeAdapter) FetchHistorical(ctx context.Context, start time.Time, end *time.Time) ([]apis.DataPoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.starts = append(a.starts, start)
	if a.calls <= a.failures {
		return nil, fmt.Errorf("upstream unavailable")
	}
	return a.points, nil
}

func fastOptions() collection.Options {
	opts := collection.DefaultOptions()
	opts.RetryDelay = time.Millisecond
	return opts
}

var _ = Describe("Controller", func() {
	var sink *fakeSink
	var controller *collection.Controller
	var s *scheduler.Scheduler
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	metadata := apis.SeriesMetadata{
		UniqueID:        "grid-load",
		Name:            "Grid Load",
		Frequency:       duration.Hour,
		UpdateFrequency: duration.Hour,
	}

	BeforeEach(func() {
		sink = newFakeSink()
		controller = collection.NewController(sink, fastOptions(), clock.RealClock{}, zap.NewNop())
		s = scheduler.New(zap.NewNop(), clock.RealClock{})
	})

	It("writes observed values to both tables and imputed gaps to history only", func() {
		adapter := &fakeAdapter{metadata: metadata, points: []apis.DataPoint{
			{Ts: base, Value: 10},
			{Ts: base.Add(3 * time.Hour), Value: 13},
		}}
		controller.RegisterAdapter(s, adapter)
		controller.InitialFetch(context.Background())

		id := sink.seriesIDs["grid-load"]
		Expect(id).ToNot(BeZero())
		// Two observed plus two interpolated values are operational.
		Expect(sink.operational[id]).To(HaveLen(4))
		Expect(sink.history[id]).To(HaveLen(4))
		imputed := 0
		for _, p := range sink.history[id] {
			if p.Quality == apis.QualityImputed {
				imputed++
			}
		}
		Expect(imputed).To(Equal(2))
		Expect(sink.refreshed[id]).To(Equal(1))
	})

	It("drops null markers from the operational table", func() {
		adapter := &fakeAdapter{metadata: metadata, points: []apis.DataPoint{
			{Ts: base, Value: 10},
			// Ten hours exceeds the max gap factor, so the gap fills
			// with null markers.
			{Ts: base.Add(10 * time.Hour), Value: 20},
		}}
		controller.RegisterAdapter(s, adapter)
		controller.InitialFetch(context.Background())

		id := sink.seriesIDs["grid-load"]
		Expect(sink.operational[id]).To(HaveLen(2))
		Expect(sink.history[id]).To(HaveLen(11))
	})

	It("sizes the fetch window from the update frequency", func() {
		adapter := &fakeAdapter{metadata: metadata}
		controller.RegisterAdapter(s, adapter)
		before := time.Now()
		controller.InitialFetch(context.Background())

		Expect(adapter.starts).To(HaveLen(1))
		want := before.Add(-1000 * time.Hour)
		Expect(adapter.starts[0]).To(BeTemporally("~", want, time.Minute))
	})

	It("retries transient failures", func() {
		adapter := &fakeAdapter{metadata: metadata, failures: 2, points: []apis.DataPoint{{Ts: base, Value: 1}}}
		controller.RegisterAdapter(s, adapter)
		controller.InitialFetch(context.Background())

		Expect(adapter.calls).To(Equal(3))
		Expect(sink.operational[sink.seriesIDs["grid-load"]]).To(HaveLen(1))
	})

	It("swallows permanent failures", func() {
		adapter := &fakeAdapter{metadata: metadata, failures: 100}
		controller.RegisterAdapter(s, adapter)
		controller.InitialFetch(context.Background())

		Expect(sink.seriesIDs).To(BeEmpty())
	})

	It("propagates detected timezones", func() {
		adapter := &fakeAdapter{metadata: metadata, timezone: "Europe/Berlin", points: []apis.DataPoint{{Ts: base, Value: 1}}}
		controller.RegisterAdapter(s, adapter)
		controller.InitialFetch(context.Background())

		Expect(sink.timezones[sink.seriesIDs["grid-load"]]).To(Equal("Europe/Berlin"))
	})
})

type fakeMultiAdapter struct {
	groupID string
	series  []adapters.SeriesDefinition
	data    map[string][]apis.DataPoint
}

func (a *fakeMultiAdapter) GroupID() string                                  { return a.groupID }
func (a *fakeMultiAdapter) Schedule() duration.Duration                      { return duration.Hour }
func (a *fakeMultiAdapter) SeriesDefinitions() []adapters.SeriesDefinition   { return a.series }
func (a *fakeMultiAdapter) FetchHistoricalMulti(ctx context.Context, start time.Time, end *time.Time) (map[string][]apis.DataPoint, error) {
	return a.data, nil
}

var _ = Describe("Controller groups", func() {
	It("persists every series of a request group independently", func() {
		base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		sink := newFakeSink()
		controller := collection.NewController(sink, fastOptions(), clock.RealClock{}, zap.NewNop())
		s := scheduler.New(zap.NewNop(), clock.RealClock{})

		seriesA := apis.SeriesMetadata{UniqueID: "a", Frequency: duration.Hour, UpdateFrequency: duration.Hour}
		seriesB := apis.SeriesMetadata{UniqueID: "b", Frequency: duration.Hour, UpdateFrequency: duration.Hour}
		controller.RegisterMultiAdapter(s, &fakeMultiAdapter{
			groupID: "stations",
			series: []adapters.SeriesDefinition{
				{Metadata: seriesA},
				{Metadata: seriesB},
			},
			data: map[string][]apis.DataPoint{
				"a": {{Ts: base, Value: 1}},
				"b": {{Ts: base, Value: 2}, {Ts: base.Add(time.Hour), Value: 3}},
			},
		})
		controller.InitialFetch(context.Background())

		Expect(sink.operational[sink.seriesIDs["a"]]).To(HaveLen(1))
		Expect(sink.operational[sink.seriesIDs["b"]]).To(HaveLen(2))
	})
})
