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

package storage_test

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/storage"
	"github.com/forecastarena/arena/pkg/utils/duration"
)

var _ = Describe("SeriesStore", func() {
	var store *storage.SeriesStore
	var md apis.SeriesMetadata

	BeforeEach(func() {
		store = storage.NewSeriesStore(pool, zap.NewNop())
		md = apis.SeriesMetadata{
			UniqueID:        fmt.Sprintf("it_%s", uuid.NewString()),
			Name:            "integration series",
			Frequency:       duration.Hour,
			UpdateFrequency: 15 * duration.Minute,
			Domain:          "test",
			Category:        "integration",
		}
	})

	It("registers a series once", func() {
		first, err := store.GetOrCreate(ctx, md)
		Expect(err).ToNot(HaveOccurred())
		second, err := store.GetOrCreate(ctx, md)
		Expect(err).ToNot(HaveOccurred())
		Expect(second).To(Equal(first))
	})

	It("upserts operational points idempotently", func() {
		seriesID, err := store.GetOrCreate(ctx, md)
		Expect(err).ToNot(HaveOccurred())

		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		points := []apis.DataPoint{
			{Ts: base, Value: 1.0},
			{Ts: base.Add(time.Hour), Value: 2.0},
		}
		n, err := store.UpsertOperational(ctx, seriesID, points)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(int64(2)))

		n, err = store.UpsertOperational(ctx, seriesID, points)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(int64(2)))
	})

	It("versions history rows only on value change", func() {
		seriesID, err := store.GetOrCreate(ctx, md)
		Expect(err).ToNot(HaveOccurred())

		base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
		points := []apis.QualityPoint{
			{Ts: base, Value: lo.ToPtr(1.0), Quality: apis.QualityOriginal},
			{Ts: base.Add(time.Hour), Value: nil, Quality: apis.QualityImputed},
		}
		res, err := store.UpsertHistory(ctx, seriesID, points)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Inserted).To(Equal(int64(2)))

		res, err = store.UpsertHistory(ctx, seriesID, points)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Inserted).To(BeZero())
		Expect(res.Unchanged).To(Equal(int64(2)))

		points[0].Value = lo.ToPtr(3.0)
		res, err = store.UpsertHistory(ctx, seriesID, points)
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Updated).To(Equal(int64(1)))
		Expect(res.Unchanged).To(Equal(int64(1)))
	})

	It("refreshes availability and resolves names", func() {
		seriesID, err := store.GetOrCreate(ctx, md)
		Expect(err).ToNot(HaveOccurred())
		Expect(store.RefreshAvailability(ctx, seriesID)).To(Succeed())

		names, err := store.Names(ctx, []int64{seriesID, -1})
		Expect(err).ToNot(HaveOccurred())
		Expect(names).To(HaveKeyWithValue(seriesID, md.Name))
		Expect(names).ToNot(HaveKey(int64(-1)))
	})
})

var _ = Describe("DefinitionStore", func() {
	var store *storage.DefinitionStore
	var def apis.ChallengeDefinition

	BeforeEach(func() {
		store = storage.NewDefinitionStore(pool, zap.NewNop())
		def = apis.ChallengeDefinition{
			ScheduleID:           fmt.Sprintf("it_%s", uuid.NewString()),
			Description:          "integration definition",
			Domain:               "test",
			ContextLength:        128,
			Horizon:              24 * duration.Hour,
			Frequency:            duration.Hour,
			AnnounceLead:         duration.Minute,
			RegistrationDuration: 30 * duration.Minute,
			CronExpression:       "0 8 * * *",
			NSeries:              5,
			IsActive:             true,
		}
	})

	It("reports changes only when the definition differs", func() {
		id, changed, err := store.Upsert(ctx, def)
		Expect(err).ToNot(HaveOccurred())
		Expect(changed).To(BeTrue())

		sameID, changed, err := store.Upsert(ctx, def)
		Expect(err).ToNot(HaveOccurred())
		Expect(changed).To(BeFalse())
		Expect(sameID).To(Equal(id))

		def.NSeries = 7
		_, changed, err = store.Upsert(ctx, def)
		Expect(err).ToNot(HaveOccurred())
		Expect(changed).To(BeTrue())
	})
})
