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

package elo_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/forecastarena/arena/pkg/controllers/elo"
	"github.com/forecastarena/arena/pkg/storage"
)

func seededOptions() elo.Options {
	opts := elo.DefaultOptions()
	opts.Bootstraps = 100
	opts.Seed = 42
	return opts
}

// score builds one (round, series, model) MASE observation.
func score(roundID, seriesID, modelID int64, mase float64) storage.MatchScore {
	return storage.MatchScore{RoundID: roundID, SeriesID: seriesID, ModelID: modelID, MASE: mase}
}

var _ = Describe("Bootstrap", func() {
	It("ranks the consistently better model higher", func() {
		var scores []storage.MatchScore
		for round := int64(1); round <= 20; round++ {
			scores = append(scores,
				score(round, 1, 100, 0.8),
				score(round, 1, 200, 1.2),
			)
		}
		ratings := elo.Bootstrap(scores, seededOptions())
		Expect(ratings).To(HaveLen(2))
		Expect(ratings[0].ModelID).To(Equal(int64(100)))
		Expect(ratings[0].Median).To(BeNumerically(">", ratings[1].Median))
		Expect(ratings[0].NMatches).To(Equal(20))
	})

	It("keeps the confidence interval ordered around the median", func() {
		var scores []storage.MatchScore
		for round := int64(1); round <= 10; round++ {
			for model := int64(1); model <= 4; model++ {
				scores = append(scores, score(round, 1, model, float64((round+model)%5)+0.1))
			}
		}
		for _, r := range elo.Bootstrap(scores, seededOptions()) {
			Expect(r.CiLower).To(BeNumerically("<=", r.Median))
			Expect(r.Median).To(BeNumerically("<=", r.CiUpper))
		}
	})

	It("treats equal MASE values as a draw", func() {
		var scores []storage.MatchScore
		for round := int64(1); round <= 10; round++ {
			scores = append(scores,
				score(round, 1, 1, 1.0),
				score(round, 1, 2, 1.0),
			)
		}
		ratings := elo.Bootstrap(scores, seededOptions())
		Expect(ratings[0].Median).To(BeNumerically("~", elo.DefaultBaseRating, 1e-6))
		Expect(ratings[1].Median).To(BeNumerically("~", elo.DefaultBaseRating, 1e-6))
	})

	It("is deterministic under a fixed seed", func() {
		scores := []storage.MatchScore{
			score(1, 1, 1, 0.5), score(1, 1, 2, 1.5),
			score(2, 1, 1, 1.5), score(2, 1, 2, 0.5),
			score(2, 2, 1, 0.7), score(2, 2, 2, 0.9),
		}
		Expect(elo.Bootstrap(scores, seededOptions())).To(Equal(elo.Bootstrap(scores, seededOptions())))
	})

	It("skips degenerate inputs", func() {
		Expect(elo.Bootstrap(nil, seededOptions())).To(BeEmpty())
		Expect(elo.Bootstrap([]storage.MatchScore{score(1, 1, 1, 0.5)}, seededOptions())).To(BeEmpty())
	})

	It("conserves rating mass within a two-player match", func() {
		scores := []storage.MatchScore{
			score(1, 1, 1, 0.5),
			score(1, 1, 2, 1.5),
		}
		ratings := elo.Bootstrap(scores, seededOptions())
		total := ratings[0].Median + ratings[1].Median
		Expect(total).To(BeNumerically("~", 2*elo.DefaultBaseRating, 1e-6))
	})
})
