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

// Package apis holds the domain types shared by the supervisor and collector
// processes. String-coded statuses from the store are converted into the
// closed enumerations defined here at the persistence boundary.
package apis

import (
	"time"

	"github.com/forecastarena/arena/pkg/utils/duration"
)

// QualityCode tags a persisted time-series value as observed or imputed.
type QualityCode int16

const (
	QualityOriginal QualityCode = 0
	QualityImputed  QualityCode = 1
)

// SeriesMetadata describes a time series independently of its surrogate id.
// UniqueID is the stable textual identity; everything else is mutable.
type SeriesMetadata struct {
	UniqueID        string            `yaml:"unique_id" json:"uniqueId"`
	Name            string            `yaml:"name" json:"name"`
	Description     string            `yaml:"description" json:"description"`
	Frequency       duration.Duration `yaml:"frequency" json:"frequency"`
	UpdateFrequency duration.Duration `yaml:"update_frequency" json:"updateFrequency"`
	Unit            string            `yaml:"unit" json:"unit"`
	Domain          string            `yaml:"domain" json:"domain"`
	Category        string            `yaml:"category" json:"category"`
	Subcategory     string            `yaml:"subcategory,omitempty" json:"subcategory,omitempty"`
	Timezone        string            `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// TimeSeries is a registered series with its integer surrogate key.
type TimeSeries struct {
	SeriesID int64
	SeriesMetadata
}

// DataPoint is one observation of the operational table.
type DataPoint struct {
	Ts    time.Time
	Value float64
}

// QualityPoint is a data point carrying a quality code. Value is nil for
// null markers emitted into large gaps.
type QualityPoint struct {
	Ts      time.Time
	Value   *float64
	Quality QualityCode
}

// SinkResult reports the outcome of one SCD2 batch upsert.
type SinkResult struct {
	Inserted  int64
	Updated   int64
	Unchanged int64
}
