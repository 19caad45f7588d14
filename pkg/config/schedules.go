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

// Package config loads and validates the YAML files consumed by the
// supervisor (challenge schedules) and the collector (data portal). Both
// loads are fatal at startup when invalid.
package config

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/utils/duration"
)

// ErrInvalidConfig wraps every validation failure of a configuration file.
var ErrInvalidConfig = fmt.Errorf("invalid config")

// defaultAnnounceLead applies when a schedule entry omits announce_lead.
var defaultAnnounceLead = duration.Minute

// ScheduleEntry is one recurring challenge definition in the schedules
// file.
type ScheduleEntry struct {
	ID                   string            `yaml:"id"`
	Cron                 string            `yaml:"cron"`
	RunOnStartup         bool              `yaml:"run_on_startup"`
	Description          string            `yaml:"description"`
	ContextLength        int               `yaml:"context_length"`
	ForecastHorizon      duration.Duration `yaml:"forecast_horizon"`
	Frequency            duration.Duration `yaml:"frequency"`
	AnnounceLead         duration.Duration `yaml:"announce_lead"`
	RegistrationDuration duration.Duration `yaml:"registration_duration"`
	EvaluationDelay      duration.Duration `yaml:"evaluation_delay"`
	NSeries              int               `yaml:"n_time_series"`
	RequiredSeries       []int64           `yaml:"required_time_series"`
	Domain               string            `yaml:"domain"`
	Subdomain            string            `yaml:"subdomain"`
}

// ScheduleFile is the shape of the supervisor's schedules YAML.
type ScheduleFile struct {
	Schedules []ScheduleEntry `yaml:"schedules"`
}

// LoadSchedules parses and validates the schedules file.
func LoadSchedules(path string) (*ScheduleFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schedules file: %w", err)
	}
	return ParseSchedules(raw)
}

// ParseSchedules parses and validates the raw schedules document.
// Duplicate schedule ids are rejected.
func ParseSchedules(raw []byte) (*ScheduleFile, error) {
	var file ScheduleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	var errs error
	seen := map[string]struct{}{}
	cronParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for i := range file.Schedules {
		entry := &file.Schedules[i]
		if entry.ID == "" {
			errs = multierr.Append(errs, fmt.Errorf("schedule %d: id is required", i))
			continue
		}
		if _, dup := seen[entry.ID]; dup {
			errs = multierr.Append(errs, fmt.Errorf("schedule %q: duplicate id", entry.ID))
		}
		seen[entry.ID] = struct{}{}
		if _, err := cronParser.Parse(entry.Cron); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("schedule %q: cron %q: %v", entry.ID, entry.Cron, err))
		}
		if entry.ContextLength <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("schedule %q: context_length must be positive", entry.ID))
		}
		if entry.NSeries <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("schedule %q: n_time_series must be positive", entry.ID))
		}
		if entry.ForecastHorizon <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("schedule %q: forecast_horizon is required", entry.ID))
		}
		if entry.Frequency <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("schedule %q: frequency is required", entry.ID))
		}
		if entry.RegistrationDuration <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("schedule %q: registration_duration is required", entry.ID))
		}
		if entry.AnnounceLead <= 0 {
			entry.AnnounceLead = defaultAnnounceLead
		}
		if entry.Domain == "" {
			entry.Domain = "mixed"
		}
	}
	if errs != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, errs)
	}
	return &file, nil
}

// Definition converts the entry into the persistent definition shape.
func (e ScheduleEntry) Definition() apis.ChallengeDefinition {
	return apis.ChallengeDefinition{
		ScheduleID:           e.ID,
		Description:          e.Description,
		Domain:               e.Domain,
		Subdomain:            e.Subdomain,
		ContextLength:        e.ContextLength,
		Horizon:              e.ForecastHorizon,
		Frequency:            e.Frequency,
		AnnounceLead:         e.AnnounceLead,
		RegistrationDuration: e.RegistrationDuration,
		EvaluationDelay:      e.EvaluationDelay,
		CronExpression:       e.Cron,
		NSeries:              e.NSeries,
		RequiredSeries:       lo.Uniq(e.RequiredSeries),
		IsActive:             true,
		RunOnStartup:         e.RunOnStartup,
	}
}
