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

// Package adapters defines the source adapter contracts and the
// built-in implementations. Adapters only fetch and shape upstream
// data; retries, imputation and persistence live with the collection
// controller.
package adapters

import (
	"context"
	"time"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/utils/duration"
)

// Adapter fetches one time series from an upstream source. End is
// optional; adapters that need an upper bound supply their own.
type Adapter interface {
	Metadata() apis.SeriesMetadata
	FetchHistorical(ctx context.Context, start time.Time, end *time.Time) ([]apis.DataPoint, error)
	// Timezone returns the timezone detected from the upstream
	// response, or "" when the source does not report one.
	Timezone() string
}

// SeriesDefinition is one series extracted from a multi-series group
// response. ExtractFilter holds field equality constraints applied to
// each record.
type SeriesDefinition struct {
	Metadata      apis.SeriesMetadata
	ExtractFilter map[string]interface{}
}

// MultiAdapter fetches many series with a single upstream call.
type MultiAdapter interface {
	GroupID() string
	Schedule() duration.Duration
	SeriesDefinitions() []SeriesDefinition
	FetchHistoricalMulti(ctx context.Context, start time.Time, end *time.Time) (map[string][]apis.DataPoint, error)
}
