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

package adapters_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/forecastarena/arena/pkg/adapters"
	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/utils/duration"
)

func metadataFor(uniqueID string) apis.SeriesMetadata {
	return apis.SeriesMetadata{
		UniqueID:  uniqueID,
		Name:      uniqueID,
		Frequency: duration.Hour,
	}
}

var _ = Describe("HTTPJSONAdapter", func() {
	It("fetches and decodes a single page", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Query().Get("start")).ToNot(BeEmpty())
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{
					{"timestamp": "2026-01-01T00:00:00Z", "value": 10.5},
					{"timestamp": "2026-01-01T01:00:00Z", "value": nil},
					{"timestamp": "2026-01-01T02:00:00Z", "value": 12.0},
				},
			})
		}))
		defer server.Close()

		adapter, err := adapters.New(adapters.TypeHTTPJSON, metadataFor("single"), map[string]interface{}{
			"url": server.URL,
		})
		Expect(err).ToNot(HaveOccurred())
		points, err := adapter.FetchHistorical(context.Background(), time.Now().Add(-24*time.Hour), nil)
		Expect(err).ToNot(HaveOccurred())
		// Null values are dropped, not zeroed.
		Expect(points).To(HaveLen(2))
		Expect(points[0].Value).To(Equal(10.5))
		Expect(points[1].Ts).To(Equal(time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)))
	})

	It("paginates until a short page", func() {
		var requests int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
			var items []map[string]interface{}
			for i := 0; i < 2 && offset+i < 5; i++ {
				items = append(items, map[string]interface{}{
					"timestamp": time.Date(2026, 1, 1, offset+i, 0, 0, 0, time.UTC).Format(time.RFC3339),
					"value":     float64(offset + i),
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": items})
		}))
		defer server.Close()

		adapter, err := adapters.New(adapters.TypeHTTPJSON, metadataFor("paged"), map[string]interface{}{
			"url":       server.URL,
			"page_size": 2,
		})
		Expect(err).ToNot(HaveOccurred())
		points, err := adapter.FetchHistorical(context.Background(), time.Now().Add(-24*time.Hour), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(points).To(HaveLen(5))
		Expect(requests).To(Equal(3))
	})

	It("detects the upstream timezone and localizes naive timestamps", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"meta": map[string]interface{}{"timezone": "Europe/Berlin"},
				"data": []map[string]interface{}{
					// Winter time, UTC+1.
					{"timestamp": "2026-01-01T12:00:00", "value": 1.0},
				},
			})
		}))
		defer server.Close()

		adapter, err := adapters.New(adapters.TypeHTTPJSON, metadataFor("localized"), map[string]interface{}{
			"url":           server.URL,
			"timezone_path": "meta.timezone",
		})
		Expect(err).ToNot(HaveOccurred())
		points, err := adapter.FetchHistorical(context.Background(), time.Now().Add(-24*time.Hour), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(adapter.Timezone()).To(Equal("Europe/Berlin"))
		Expect(points[0].Ts).To(Equal(time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)))
	})

	It("propagates upstream errors", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
		}))
		defer server.Close()

		adapter, err := adapters.New(adapters.TypeHTTPJSON, metadataFor("failing"), map[string]interface{}{
			"url": server.URL,
		})
		Expect(err).ToNot(HaveOccurred())
		_, err = adapter.FetchHistorical(context.Background(), time.Now().Add(-time.Hour), nil)
		Expect(err).To(MatchError(ContainSubstring("429")))
	})

	It("requires a url", func() {
		_, err := adapters.New(adapters.TypeHTTPJSON, metadataFor("nourl"), map[string]interface{}{})
		Expect(err).To(MatchError(ContainSubstring("url is required")))
	})
})

var _ = Describe("HTTPJSONMultiAdapter", func() {
	It("routes records to series via extract filters", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{
					{"station": "berlin", "timestamp": "2026-01-01T00:00:00Z", "value": 1.0},
					{"station": "hamburg", "timestamp": "2026-01-01T00:00:00Z", "value": 2.0},
					{"station": "berlin", "timestamp": "2026-01-01T01:00:00Z", "value": 3.0},
					{"station": "munich", "timestamp": "2026-01-01T00:00:00Z", "value": 4.0},
				},
			})
		}))
		defer server.Close()

		adapter, err := adapters.NewMulti(adapters.TypeHTTPJSONMulti, "stations", duration.Hour, map[string]interface{}{
			"url": server.URL,
		}, []adapters.SeriesDefinition{
			{Metadata: metadataFor("berlin-temp"), ExtractFilter: map[string]interface{}{"station": "berlin"}},
			{Metadata: metadataFor("hamburg-temp"), ExtractFilter: map[string]interface{}{"station": "hamburg"}},
		})
		Expect(err).ToNot(HaveOccurred())
		bySeries, err := adapter.FetchHistoricalMulti(context.Background(), time.Now().Add(-24*time.Hour), nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(bySeries["berlin-temp"]).To(HaveLen(2))
		Expect(bySeries["hamburg-temp"]).To(HaveLen(1))
		Expect(bySeries["berlin-temp"][1].Value).To(Equal(3.0))
	})
})

var _ = Describe("Registry", func() {
	It("rejects unknown type tags", func() {
		_, err := adapters.New("no-such-adapter", metadataFor("x"), nil)
		Expect(err).To(MatchError(ContainSubstring("unknown adapter type")))
	})
})

var _ = Describe("RateLimiter", func() {
	It("spaces calls to the configured budget", func() {
		limiter := adapters.NewRateLimiter(600) // 100ms apart
		start := time.Now()
		for i := 0; i < 3; i++ {
			Expect(limiter.Wait(context.Background())).To(Succeed())
		}
		Expect(time.Since(start)).To(BeNumerically(">=", 200*time.Millisecond))
	})

	It("aborts on context cancellation", func() {
		limiter := adapters.NewRateLimiter(1)
		Expect(limiter.Wait(context.Background())).To(Succeed())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		Expect(limiter.Wait(ctx)).To(MatchError(context.DeadlineExceeded))
	})
})

var _ = Describe("SyntheticAdapter", func() {
	It("generates a deterministic signal at the series frequency", func() {
		adapter, err := adapters.New(adapters.TypeSynthetic, metadataFor("synthetic-a"), nil)
		Expect(err).ToNot(HaveOccurred())
		end := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
		start := end.Add(-6 * time.Hour)
		first, err := adapter.FetchHistorical(context.Background(), start, &end)
		Expect(err).ToNot(HaveOccurred())
		second, err := adapter.FetchHistorical(context.Background(), start, &end)
		Expect(err).ToNot(HaveOccurred())
		Expect(first).To(HaveLen(7))
		Expect(first).To(Equal(second))
		for i := 1; i < len(first); i++ {
			Expect(first[i].Ts.Sub(first[i-1].Ts)).To(Equal(time.Hour))
		}
	})
})

var _ = DescribeTable("numeric filter matching",
	func(filterValue interface{}, recordValue interface{}, want bool) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{
					{"zone": recordValue, "timestamp": "2026-01-01T00:00:00Z", "value": 1.0},
				},
			})
		}))
		defer server.Close()
		adapter, err := adapters.NewMulti(adapters.TypeHTTPJSONMulti, "zones", duration.Hour, map[string]interface{}{
			"url": server.URL,
		}, []adapters.SeriesDefinition{
			{Metadata: metadataFor("zone-series"), ExtractFilter: map[string]interface{}{"zone": filterValue}},
		})
		Expect(err).ToNot(HaveOccurred())
		bySeries, err := adapter.FetchHistoricalMulti(context.Background(), time.Now().Add(-time.Hour), nil)
		Expect(err).ToNot(HaveOccurred())
		if want {
			Expect(bySeries["zone-series"]).To(HaveLen(1))
		} else {
			Expect(bySeries["zone-series"]).To(BeEmpty())
		}
	},
	Entry("yaml int matches json float", 4, 4.0, true),
	Entry("string matches string", "4", "4", true),
	Entry("mismatch", fmt.Sprint(5), "4", false),
)
