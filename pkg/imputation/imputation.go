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

// Package imputation fills gaps in fetched series data before it reaches the
// sink. Small gaps are linearly interpolated; gaps wider than
// MaxGapFactor times the expected frequency are marked with null points so
// downstream consumers can tell "interpolated" from "unknown".
package imputation

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/utils/duration"
)

// DefaultMaxGapFactor is the widest gap, in multiples of the expected
// frequency, that still gets interpolated values rather than null markers.
const DefaultMaxGapFactor = 6.0

type Options struct {
	// Enabled false passes the input through tagged ORIGINAL.
	Enabled      bool
	MaxGapFactor float64
}

func DefaultOptions() Options {
	return Options{Enabled: true, MaxGapFactor: DefaultMaxGapFactor}
}

// Result carries the merged sequence plus counts of what was synthesized.
type Result struct {
	Points       []apis.QualityPoint
	Interpolated int
	NullMarkers  int
}

// Impute sorts the input chronologically and fills every gap between
// consecutive points according to the expected frequency. It is pure and
// deterministic; the input slice is not modified.
func Impute(points []apis.DataPoint, frequency duration.Duration, opts Options) Result {
	sorted := make([]apis.DataPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Ts.Before(sorted[j].Ts) })

	if !opts.Enabled || frequency <= 0 || len(sorted) < 2 {
		return Result{Points: lo.Map(sorted, func(p apis.DataPoint, _ int) apis.QualityPoint {
			return original(p)
		})}
	}
	if opts.MaxGapFactor <= 0 {
		opts.MaxGapFactor = DefaultMaxGapFactor
	}

	freq := frequency.Std()
	out := Result{Points: make([]apis.QualityPoint, 0, len(sorted))}
	for i := 0; i < len(sorted)-1; i++ {
		start, end := sorted[i], sorted[i+1]
		out.Points = append(out.Points, original(start))

		delta := end.Ts.Sub(start.Ts)
		if float64(delta) <= 1.5*float64(freq) {
			continue
		}
		missing := int(delta/freq) - 1
		if missing <= 0 {
			continue
		}
		if float64(delta) > opts.MaxGapFactor*float64(freq) {
			for k := 1; k <= missing; k++ {
				out.Points = append(out.Points, apis.QualityPoint{
					Ts:      start.Ts.Add(time.Duration(k) * freq),
					Quality: apis.QualityImputed,
				})
			}
			out.NullMarkers += missing
			continue
		}
		for k := 1; k <= missing; k++ {
			value := start.Value + (end.Value-start.Value)*float64(k)/float64(missing+1)
			out.Points = append(out.Points, apis.QualityPoint{
				Ts:      start.Ts.Add(time.Duration(k) * freq),
				Value:   lo.ToPtr(value),
				Quality: apis.QualityImputed,
			})
		}
		out.Interpolated += missing
	}
	out.Points = append(out.Points, original(sorted[len(sorted)-1]))
	return out
}

func original(p apis.DataPoint) apis.QualityPoint {
	return apis.QualityPoint{Ts: p.Ts, Value: lo.ToPtr(p.Value), Quality: apis.QualityOriginal}
}
