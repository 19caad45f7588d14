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

// ChallengeDefinition is the recurring template from which rounds are cut.
type ChallengeDefinition struct {
	ID                   int64
	ScheduleID           string
	Description          string
	Domain               string
	Subdomain            string
	ContextLength        int
	Horizon              duration.Duration
	Frequency            duration.Duration
	AnnounceLead         duration.Duration
	RegistrationDuration duration.Duration
	EvaluationDelay      duration.Duration
	CronExpression       string
	NSeries              int
	RequiredSeries       []int64
	IsActive             bool
	RunOnStartup         bool
}

// RoundStatus is computed from the round's timestamps, never stored.
type RoundStatus string

const (
	RoundAnnounced    RoundStatus = "announced"
	RoundRegistration RoundStatus = "registration"
	RoundActive       RoundStatus = "active"
	RoundCompleted    RoundStatus = "completed"
	RoundCancelled    RoundStatus = "cancelled"
)

// PreparationParams is the free-form snapshot persisted on round creation
// and consumed by the preparation job. It is stored as an opaque JSON
// document.
type PreparationParams struct {
	Domain         string            `json:"domain"`
	Subdomain      string            `json:"subdomain,omitempty"`
	RequiredSeries []int64           `json:"requiredSeries"`
	NSeries        int               `json:"nSeries"`
	ContextLength  int               `json:"contextLength"`
	Frequency      duration.Duration `json:"frequency"`
	CutoffTime     time.Time         `json:"cutoffTime"`
}

// ChallengeRound is one materialized instance of a definition.
//
// Invariant: RegistrationStart <= RegistrationEnd == StartTime <= EndTime,
// with EndTime - StartTime equal to the definition's horizon.
type ChallengeRound struct {
	RoundID           int64
	DefinitionID      *int64
	Name              string
	ContextLength     int
	Horizon           duration.Duration
	Frequency         duration.Duration
	RegistrationStart time.Time
	RegistrationEnd   time.Time
	StartTime         time.Time
	EndTime           time.Time
	PreparationParams PreparationParams
	IsCancelled       bool
	CreatedAt         time.Time
}

// StatusAt computes the round status from the stored timestamps.
func (r *ChallengeRound) StatusAt(now time.Time) RoundStatus {
	switch {
	case r.IsCancelled:
		return RoundCancelled
	case !now.Before(r.EndTime):
		return RoundCompleted
	case !now.Before(r.StartTime):
		return RoundActive
	case !now.Before(r.RegistrationStart):
		return RoundRegistration
	default:
		return RoundAnnounced
	}
}

// RoundSeries is the per-round series row exposed to participants under a
// pseudonymous name, together with context-window statistics.
type RoundSeries struct {
	RoundID             int64
	SeriesID            int64
	ChallengeSeriesName string
	MinTs               time.Time
	MaxTs               time.Time
	ValueAvg            float64
	ValueStd            float64
}
