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
	"fmt"
	"time"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/utils/duration"
)

const TypeHTTPJSONMulti = "httpjson-multi"

func init() {
	RegisterMulti(TypeHTTPJSONMulti, NewHTTPJSONMulti)
}

// HTTPJSONMultiAdapter pulls one JSON payload and routes records to
// series via each definition's extract filter.
type HTTPJSONMultiAdapter struct {
	groupID  string
	schedule duration.Duration
	params   *httpJSONParams
	series   []SeriesDefinition
}

func NewHTTPJSONMulti(groupID string, schedule duration.Duration, requestParams map[string]interface{}, series []SeriesDefinition) (MultiAdapter, error) {
	decoded, err := decodeHTTPParams(fmt.Sprintf("request group %q", groupID), requestParams)
	if err != nil {
		return nil, err
	}
	return &HTTPJSONMultiAdapter{
		groupID:  groupID,
		schedule: schedule,
		params:   decoded,
		series:   series,
	}, nil
}

func (a *HTTPJSONMultiAdapter) GroupID() string                       { return a.groupID }
func (a *HTTPJSONMultiAdapter) Schedule() duration.Duration           { return a.schedule }
func (a *HTTPJSONMultiAdapter) SeriesDefinitions() []SeriesDefinition { return a.series }

func (a *HTTPJSONMultiAdapter) FetchHistoricalMulti(ctx context.Context, start time.Time, end *time.Time) (map[string][]apis.DataPoint, error) {
	records, timezone, err := fetchPaginated(ctx, a.params, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching group %q: %w", a.groupID, err)
	}
	location, err := resolveLocation(timezone)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]apis.DataPoint, len(a.series))
	for _, definition := range a.series {
		out[definition.Metadata.UniqueID] = nil
	}
	for _, record := range records {
		for _, definition := range a.series {
			if !matchesFilter(record, definition.ExtractFilter) {
				continue
			}
			point, ok, err := decodePoint(record, a.params, location)
			if err != nil {
				return nil, fmt.Errorf("fetching group %q: %w", a.groupID, err)
			}
			if ok {
				uniqueID := definition.Metadata.UniqueID
				out[uniqueID] = append(out[uniqueID], point)
			}
		}
	}
	return out, nil
}

// matchesFilter applies field equality constraints. Numbers compare by
// value so YAML ints match JSON floats.
func matchesFilter(record map[string]interface{}, filter map[string]interface{}) bool {
	for field, want := range filter {
		got, ok := record[field]
		if !ok {
			return false
		}
		if wantNum, wok := asFloat(want); wok {
			gotNum, gok := asFloat(got)
			if !gok || gotNum != wantNum {
				return false
			}
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
