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

package duration

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDuration is returned for inputs that match neither accepted
// dialect or that would produce a negative duration.
var ErrInvalidDuration = fmt.Errorf("invalid duration")

// Duration is an elapsed-time quantity with whole-second resolution. It
// accepts two wire dialects, ISO-8601 ("PT1H30M") and free-form phrases
// ("90 minutes"), and always renders as ISO-8601.
type Duration time.Duration

const (
	Minute = Duration(time.Minute)
	Hour   = Duration(time.Hour)
	Day    = Duration(24 * time.Hour)
	Week   = 7 * Day
)

var (
	isoPattern  = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)
	freePattern = regexp.MustCompile(`(?i)^\s*(\d+)\s*(second|minute|hour|day|week)s?\s*$`)

	freeUnits = map[string]Duration{
		"second": Duration(time.Second),
		"minute": Minute,
		"hour":   Hour,
		"day":    Day,
		"week":   Week,
	}
)

// Parse accepts either ISO-8601 ("P1DT6H") or a free-form phrase
// ("5 minutes"). Calendar components use fixed ratios: a year is 365 days
// and a month is 30 days.
func Parse(s string) (Duration, error) {
	trimmed := strings.TrimSpace(s)
	if m := freePattern.FindStringSubmatch(trimmed); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		return Duration(n) * freeUnits[strings.ToLower(m[2])], nil
	}
	upper := strings.ToUpper(trimmed)
	m := isoPattern.FindStringSubmatch(upper)
	if m == nil || upper == "P" || strings.HasSuffix(upper, "T") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	var total time.Duration
	for i, unit := range []time.Duration{365 * 24 * time.Hour, 30 * 24 * time.Hour, 7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		total += time.Duration(n) * unit
	}
	if m[7] != "" {
		secs, err := strconv.ParseFloat(m[7], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
		}
		total += time.Duration(secs * float64(time.Second))
	}
	if total < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	return Duration(total).Truncate(), nil
}

// MustParse is Parse for static inputs.
func MustParse(s string) Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Truncate drops sub-second precision.
func (d Duration) Truncate() Duration {
	return Duration(time.Duration(d).Truncate(time.Second))
}

// Std returns the duration as a time.Duration, which pgx binds as a
// database-native interval.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String renders ISO-8601 using day and time components only, so that
// Parse(d.String()) == d for every value.
func (d Duration) String() string {
	remaining := time.Duration(d).Truncate(time.Second)
	if remaining == 0 {
		return "P0D"
	}
	var b strings.Builder
	b.WriteByte('P')
	if days := remaining / (24 * time.Hour); days > 0 {
		fmt.Fprintf(&b, "%dD", days)
		remaining -= days * 24 * time.Hour
	}
	if remaining > 0 {
		b.WriteByte('T')
		if hours := remaining / time.Hour; hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
			remaining -= hours * time.Hour
		}
		if minutes := remaining / time.Minute; minutes > 0 {
			fmt.Fprintf(&b, "%dM", minutes)
			remaining -= minutes * time.Minute
		}
		if seconds := remaining / time.Second; seconds > 0 {
			fmt.Fprintf(&b, "%dS", seconds)
		}
	}
	return b.String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// QuarterUpdateFrequency derives an update frequency as one quarter of the
// sampling frequency, clamped to at least one minute and floored to the
// coarsest natural unit that fits (days, then hours, then minutes).
func QuarterUpdateFrequency(frequency Duration) Duration {
	quarter := time.Duration(frequency) / 4
	if quarter < time.Minute {
		return Minute
	}
	switch {
	case quarter >= 24*time.Hour:
		return Duration(quarter.Truncate(24 * time.Hour))
	case quarter >= time.Hour:
		return Duration(quarter.Truncate(time.Hour))
	default:
		return Duration(quarter.Truncate(time.Minute))
	}
}
