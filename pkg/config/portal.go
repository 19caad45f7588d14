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

package config

import (
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/utils/duration"
)

// AdapterSpec configures one single-series adapter. Type is the registry
// tag resolved to a factory at startup; Params is the adapter-specific
// opaque bag.
type AdapterSpec struct {
	Type     string                 `yaml:"type"`
	Metadata apis.SeriesMetadata    `yaml:"metadata"`
	Params   map[string]interface{} `yaml:"default_params"`
}

// GroupSeriesSpec is one series extracted from a multi-series request
// group.
type GroupSeriesSpec struct {
	UniqueID      string                 `yaml:"unique_id"`
	ExtractFilter map[string]interface{} `yaml:"extract_filter"`
	Metadata      apis.SeriesMetadata    `yaml:"metadata"`
}

// RequestGroupSpec configures one multi-series adapter whose single
// upstream call populates many series.
type RequestGroupSpec struct {
	Type          string                 `yaml:"type"`
	Schedule      duration.Duration      `yaml:"schedule"`
	RequestParams map[string]interface{} `yaml:"request_params"`
	Series        []GroupSeriesSpec      `yaml:"timeseries"`
}

// PortalFile is the collector's data-portal configuration.
type PortalFile struct {
	TimeSeries    map[string]AdapterSpec      `yaml:"timeseries"`
	RequestGroups map[string]RequestGroupSpec `yaml:"request_groups"`
}

// LoadPortal parses and validates the portal file.
func LoadPortal(path string) (*PortalFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading portal file: %w", err)
	}
	return ParsePortal(raw)
}

// ParsePortal parses and validates the raw portal document. Unique ids
// must be distinct across single adapters and group members; missing
// update frequencies default to one quarter of the sampling frequency.
func ParsePortal(raw []byte) (*PortalFile, error) {
	var file PortalFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	var errs error
	seen := map[string]struct{}{}
	claim := func(uniqueID, owner string) {
		if uniqueID == "" {
			errs = multierr.Append(errs, fmt.Errorf("%s: unique id is required", owner))
			return
		}
		if _, dup := seen[uniqueID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%s: duplicate unique id %q", owner, uniqueID))
		}
		seen[uniqueID] = struct{}{}
	}
	for uniqueID, spec := range file.TimeSeries {
		claim(uniqueID, fmt.Sprintf("timeseries %q", uniqueID))
		if spec.Type == "" {
			errs = multierr.Append(errs, fmt.Errorf("timeseries %q: type is required", uniqueID))
		}
		if spec.Metadata.Frequency <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("timeseries %q: metadata.frequency is required", uniqueID))
		} else if spec.Metadata.UpdateFrequency <= 0 {
			spec.Metadata.UpdateFrequency = duration.QuarterUpdateFrequency(spec.Metadata.Frequency)
		}
		spec.Metadata.UniqueID = uniqueID
		file.TimeSeries[uniqueID] = spec
	}
	for groupID, group := range file.RequestGroups {
		if group.Type == "" {
			errs = multierr.Append(errs, fmt.Errorf("request group %q: type is required", groupID))
		}
		if group.Schedule <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("request group %q: schedule is required", groupID))
		}
		for i, member := range group.Series {
			claim(member.UniqueID, fmt.Sprintf("request group %q", groupID))
			if member.Metadata.Frequency <= 0 {
				errs = multierr.Append(errs, fmt.Errorf("request group %q member %q: metadata.frequency is required", groupID, member.UniqueID))
			} else if member.Metadata.UpdateFrequency <= 0 {
				member.Metadata.UpdateFrequency = duration.QuarterUpdateFrequency(member.Metadata.Frequency)
			}
			member.Metadata.UniqueID = member.UniqueID
			group.Series[i] = member
		}
		file.RequestGroups[groupID] = group
	}
	if errs != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, errs)
	}
	return &file, nil
}
