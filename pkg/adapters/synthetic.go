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

package adapters

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"github.com/forecastarena/arena/pkg/apis"
)

const TypeSynthetic = "synthetic"

func init() {
	Register(TypeSynthetic, NewSynthetic)
}

// SyntheticAdapter generates a deterministic daily-seasonal signal for
// local environments and smoke tests. The phase is derived from the
// unique id so distinct series produce distinct values.
type SyntheticAdapter struct {
	metadata apis.SeriesMetadata
	phase    float64
	level    float64
}

func NewSynthetic(metadata apis.SeriesMetadata, params map[string]interface{}) (Adapter, error) {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(metadata.UniqueID))
	seed := float64(hash.Sum32())
	return &SyntheticAdapter{
		metadata: metadata,
		phase:    math.Mod(seed, 2*math.Pi),
		level:    100 + math.Mod(seed, 900),
	}, nil
}

func (a *SyntheticAdapter) Metadata() apis.SeriesMetadata { return a.metadata }
func (a *SyntheticAdapter) Timezone() string              { return "" }

func (a *SyntheticAdapter) FetchHistorical(ctx context.Context, start time.Time, end *time.Time) ([]apis.DataPoint, error) {
	step := a.metadata.Frequency.Std()
	if step <= 0 {
		step = time.Hour
	}
	until := time.Now().UTC()
	if end != nil {
		until = *end
	}
	var points []apis.DataPoint
	for ts := start.Truncate(step); !ts.After(until); ts = ts.Add(step) {
		day := float64(ts.Unix()) / (24 * time.Hour.Seconds())
		value := a.level +
			a.level*0.1*math.Sin(2*math.Pi*day+a.phase) +
			a.level*0.02*math.Sin(14*math.Pi*day+a.phase)
		points = append(points, apis.DataPoint{Ts: ts.UTC(), Value: math.Round(value*1000) / 1000})
	}
	return points, nil
}
