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

package apis

import (
	"time"

	"github.com/forecastarena/arena/pkg/utils/duration"
)

// Resolution names one of the pre-aggregated read views of the operational
// table.
type Resolution string

const (
	Resolution15Min Resolution = "15min"
	Resolution1H    Resolution = "1h"
	Resolution1D    Resolution = "1d"
)

// Bucket returns the aggregation step of the resolution.
func (r Resolution) Bucket() time.Duration {
	switch r {
	case Resolution15Min:
		return 15 * time.Minute
	case Resolution1D:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// ViewName returns the database view backing the resolution.
func (r Resolution) ViewName() string {
	return "time_series_data_" + string(r)
}

// ResolutionForFrequency maps a round frequency onto the closest view.
// ok is false when no view matches and the 1h default applies.
func ResolutionForFrequency(frequency duration.Duration) (Resolution, bool) {
	switch f := frequency.Std(); {
	case f <= 0:
		return Resolution1H, false
	case f <= 15*time.Minute:
		return Resolution15Min, true
	case f <= time.Hour:
		return Resolution1H, true
	case f >= 24*time.Hour:
		return Resolution1D, true
	default:
		return Resolution1H, false
	}
}
