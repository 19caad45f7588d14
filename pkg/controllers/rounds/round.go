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

package rounds

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/forecastarena/arena/pkg/apis"
)

// NewRound computes a round's time window at the given instant:
//
//	registrationStart = now + announceLead
//	registrationEnd   = registrationStart + registrationDuration
//	startTime         = registrationEnd
//	endTime           = startTime + horizon
//
// The name embeds the creation instant truncated to seconds, which is
// what makes re-creation within the same second idempotent.
func NewRound(def *apis.ChallengeDefinition, now time.Time) *apis.ChallengeRound {
	now = now.UTC()
	registrationStart := now.Add(def.AnnounceLead.Std())
	registrationEnd := registrationStart.Add(def.RegistrationDuration.Std())
	startTime := registrationEnd
	endTime := startTime.Add(def.Horizon.Std())
	return &apis.ChallengeRound{
		DefinitionID:      &def.ID,
		Name:              RoundName(def.Description, now),
		ContextLength:     def.ContextLength,
		Horizon:           def.Horizon,
		Frequency:         def.Frequency,
		RegistrationStart: registrationStart,
		RegistrationEnd:   registrationEnd,
		StartTime:         startTime,
		EndTime:           endTime,
		PreparationParams: apis.PreparationParams{
			Domain:         def.Domain,
			Subdomain:      def.Subdomain,
			RequiredSeries: def.RequiredSeries,
			NSeries:        def.NSeries,
			ContextLength:  def.ContextLength,
			Frequency:      def.Frequency,
			CutoffTime:     now,
		},
		CreatedAt: now,
	}
}

// RoundName derives the unique round name from the definition
// description and the creation instant.
func RoundName(description string, now time.Time) string {
	return fmt.Sprintf("%s - %s", description, now.UTC().Truncate(time.Second).Format("2006-01-02 15:04:05"))
}

// Pseudonym hides a sampled series' identity behind a stable per-round
// name.
func Pseudonym(roundID, seriesID int64) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d:%d", roundID, seriesID)))
	return "series_" + hex.EncodeToString(sum[:])[:12]
}
