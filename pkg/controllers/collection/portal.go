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

package collection

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/forecastarena/arena/pkg/adapters"
	"github.com/forecastarena/arena/pkg/config"
	"github.com/forecastarena/arena/pkg/scheduler"
)

// RegisterFromPortal builds every adapter named in the portal file and
// schedules it. A misconfigured adapter is fatal so the process fails
// fast at startup rather than silently skipping a series.
func (c *Controller) RegisterFromPortal(s *scheduler.Scheduler, portal *config.PortalFile) error {
	for uniqueID, spec := range portal.TimeSeries {
		adapter, err := adapters.New(spec.Type, spec.Metadata, spec.Params)
		if err != nil {
			return fmt.Errorf("building adapter for %q: %w", uniqueID, err)
		}
		c.RegisterAdapter(s, adapter)
	}
	for groupID, group := range portal.RequestGroups {
		definitions := lo.Map(group.Series, func(member config.GroupSeriesSpec, _ int) adapters.SeriesDefinition {
			return adapters.SeriesDefinition{Metadata: member.Metadata, ExtractFilter: member.ExtractFilter}
		})
		multi, err := adapters.NewMulti(group.Type, groupID, group.Schedule, group.RequestParams, definitions)
		if err != nil {
			return fmt.Errorf("building adapter for group %q: %w", groupID, err)
		}
		c.RegisterMultiAdapter(s, multi)
	}
	return nil
}
