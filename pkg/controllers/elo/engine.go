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

// Package elo ranks models by bootstrapped pairwise ELO over finalized
// MASE scores. A match is one (round, series); every model that scored
// it plays every other.
package elo

import (
	"math"
	"math/rand"
	"sort"

	"github.com/samber/lo"

	"github.com/forecastarena/arena/pkg/storage"
)

const (
	// DefaultK is deliberately small; with all pairs updating every
	// match, large factors oscillate.
	DefaultK          = 4.0
	DefaultBaseRating = 1000.0
	DefaultBootstraps = 500
)

type Options struct {
	K          float64
	BaseRating float64
	Bootstraps int
	// Seed fixes the permutation sequence; zero draws from the global
	// source.
	Seed int64
}

func DefaultOptions() Options {
	return Options{K: DefaultK, BaseRating: DefaultBaseRating, Bootstraps: DefaultBootstraps}
}

// Rating is the bootstrapped result for one model.
type Rating struct {
	ModelID  int64
	Median   float64
	CiLower  float64
	CiUpper  float64
	NMatches int
}

type matchKey struct {
	roundID  int64
	seriesID int64
}

// Bootstrap runs the full tournament. Each season replays every match
// in a fresh uniformly random order from base ratings; the per-model
// distribution over seasons yields the median rating and its 2.5/97.5
// percentile interval. Fewer than two models or an empty match set
// yields no ratings.
func Bootstrap(scores []storage.MatchScore, opts Options) []Rating {
	matches := map[matchKey]map[int64]float64{}
	models := map[int64]int{}
	for _, s := range scores {
		key := matchKey{roundID: s.RoundID, seriesID: s.SeriesID}
		if matches[key] == nil {
			matches[key] = map[int64]float64{}
		}
		if _, seen := matches[key][s.ModelID]; !seen {
			models[s.ModelID]++
		}
		matches[key][s.ModelID] = s.MASE
	}
	if len(models) < 2 || len(matches) == 0 {
		return nil
	}

	// Flatten once so every season reuses the same allocation.
	type match struct {
		models []int64
		mase   []float64
	}
	flat := make([]match, 0, len(matches))
	for _, byModel := range matches {
		ids := lo.Keys(byModel)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		m := match{models: ids, mase: make([]float64, len(ids))}
		for i, id := range ids {
			m.mase[i] = byModel[id]
		}
		flat = append(flat, m)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	if opts.Seed == 0 {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	finals := map[int64][]float64{}
	ratings := make(map[int64]float64, len(models))
	deltas := make(map[int64]float64, len(models))
	for season := 0; season < opts.Bootstraps; season++ {
		for id := range models {
			ratings[id] = opts.BaseRating
		}
		for _, idx := range rng.Perm(len(flat)) {
			m := flat[idx]
			playMatch(m.models, m.mase, ratings, deltas, opts.K)
		}
		for id, rating := range ratings {
			finals[id] = append(finals[id], rating)
		}
	}

	out := make([]Rating, 0, len(models))
	for id, samples := range finals {
		sort.Float64s(samples)
		out = append(out, Rating{
			ModelID:  id,
			Median:   percentile(samples, 0.5),
			CiLower:  percentile(samples, 0.025),
			CiUpper:  percentile(samples, 0.975),
			NMatches: models[id],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// playMatch applies one match. Deltas accumulate against the pre-match
// ratings and apply together, so pair order within the match cannot
// matter.
func playMatch(models []int64, mase []float64, ratings, deltas map[int64]float64, k float64) {
	for _, id := range models {
		deltas[id] = 0
	}
	for i := 0; i < len(models); i++ {
		for j := i + 1; j < len(models); j++ {
			var outcome float64
			switch {
			case mase[i] < mase[j]:
				outcome = 1
			case mase[i] == mase[j]:
				outcome = 0.5
			}
			expected := expectedScore(ratings[models[i]], ratings[models[j]])
			deltas[models[i]] += k * (outcome - expected)
			deltas[models[j]] += k * ((1 - outcome) - (1 - expected))
		}
	}
	for _, id := range models {
		ratings[id] += deltas[id]
	}
}

func expectedScore(ri, rj float64) float64 {
	return 1 / (1 + math.Pow(10, (rj-ri)/400))
}

// percentile interpolates linearly between order statistics. samples
// must be sorted.
func percentile(samples []float64, q float64) float64 {
	if len(samples) == 1 {
		return samples[0]
	}
	pos := q * float64(len(samples)-1)
	lower := int(pos)
	if lower >= len(samples)-1 {
		return samples[len(samples)-1]
	}
	frac := pos - float64(lower)
	return samples[lower] + (samples[lower+1]-samples[lower])*frac
}
