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

package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/forecastarena/arena/pkg/apis"
)

// DefinitionStore persists challenge definitions and their SCD2 series
// assignments.
type DefinitionStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewDefinitionStore(pool *pgxpool.Pool, log *zap.Logger) *DefinitionStore {
	return &DefinitionStore{pool: pool, log: log.Named("definition-store")}
}

// AssignmentSpec is the desired current state of one (definition, series)
// assignment.
type AssignmentSpec struct {
	SeriesID   int64
	IsRequired bool
	IsExcluded bool
}

// Upsert writes the definition keyed by its schedule id, preserving the
// surrogate id across updates. The entry's parameters are hashed; when the
// stored hash matches, the row is left untouched and changed is false.
func (s *DefinitionStore) Upsert(ctx context.Context, def apis.ChallengeDefinition) (id int64, changed bool, err error) {
	hash, err := hashstructure.Hash(def, hashstructure.FormatV2, nil)
	if err != nil {
		return 0, false, fmt.Errorf("hashing definition %q: %w", def.ScheduleID, err)
	}
	var storedHash int64
	err = s.pool.QueryRow(ctx,
		`SELECT id, params_hash FROM challenge_definitions WHERE schedule_id = $1`,
		def.ScheduleID).Scan(&id, &storedHash)
	if err == nil && storedHash == int64(hash) {
		return id, false, nil
	}
	if err != nil && err != pgx.ErrNoRows {
		return 0, false, fmt.Errorf("loading definition %q: %w", def.ScheduleID, err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO challenge_definitions (
			schedule_id, description, domain, subdomain, context_length,
			horizon, frequency, announce_lead, registration_duration, evaluation_delay,
			cron_expression, n_series, required_series, is_active, run_on_startup, params_hash
		) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (schedule_id) DO UPDATE SET
			description = excluded.description,
			domain = excluded.domain,
			subdomain = excluded.subdomain,
			context_length = excluded.context_length,
			horizon = excluded.horizon,
			frequency = excluded.frequency,
			announce_lead = excluded.announce_lead,
			registration_duration = excluded.registration_duration,
			evaluation_delay = excluded.evaluation_delay,
			cron_expression = excluded.cron_expression,
			n_series = excluded.n_series,
			required_series = excluded.required_series,
			is_active = excluded.is_active,
			run_on_startup = excluded.run_on_startup,
			params_hash = excluded.params_hash,
			updated_at = now()
		RETURNING id`,
		def.ScheduleID, def.Description, def.Domain, def.Subdomain, def.ContextLength,
		pgInterval(def.Horizon.Std()), pgInterval(def.Frequency.Std()), pgInterval(def.AnnounceLead.Std()),
		pgInterval(def.RegistrationDuration.Std()), pgInterval(def.EvaluationDelay.Std()),
		def.CronExpression, def.NSeries, def.RequiredSeries, def.IsActive, def.RunOnStartup, int64(hash),
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("upserting definition %q: %w", def.ScheduleID, err)
	}
	return id, true, nil
}

// ReconcileAssignments converges the current assignment rows of the
// definition onto the desired set with SCD2 semantics: assignments absent
// from the set are closed, changed ones are versioned, matching ones stay.
// An empty desired set skips the close-out entirely.
func (s *DefinitionStore) ReconcileAssignments(ctx context.Context, definitionID int64, desired []AssignmentSpec) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning assignment reconcile: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(desired) > 0 {
		seriesIDs := lo.Map(desired, func(a AssignmentSpec, _ int) int64 { return a.SeriesID })
		if _, err := tx.Exec(ctx, `
			UPDATE definition_series_assignments
			SET valid_to = now(), is_current = false
			WHERE definition_id = $1 AND is_current AND NOT (series_id = ANY($2))`,
			definitionID, seriesIDs); err != nil {
			return fmt.Errorf("closing removed assignments of definition %d: %w", definitionID, err)
		}
		if _, err := tx.Exec(ctx, `
			WITH incoming AS (
				SELECT * FROM unnest($2::bigint[], $3::boolean[], $4::boolean[]) AS t(series_id, is_required, is_excluded)
			), closed AS (
				UPDATE definition_series_assignments a
				SET valid_to = now(), is_current = false
				FROM incoming i
				WHERE a.definition_id = $1 AND a.series_id = i.series_id AND a.is_current
				  AND (a.is_required <> i.is_required OR a.is_excluded <> i.is_excluded)
				RETURNING a.series_id
			)
			INSERT INTO definition_series_assignments (definition_id, series_id, is_required, is_excluded, valid_from, valid_to, is_current)
			SELECT $1, i.series_id, i.is_required, i.is_excluded, now(), NULL, true
			FROM incoming i
			WHERE EXISTS (SELECT 1 FROM closed c WHERE c.series_id = i.series_id)
			   OR NOT EXISTS (
					SELECT 1 FROM definition_series_assignments a
					WHERE a.definition_id = $1 AND a.series_id = i.series_id AND a.is_current)`,
			definitionID,
			seriesIDs,
			lo.Map(desired, func(a AssignmentSpec, _ int) bool { return a.IsRequired }),
			lo.Map(desired, func(a AssignmentSpec, _ int) bool { return a.IsExcluded }),
		); err != nil {
			return fmt.Errorf("opening assignments of definition %d: %w", definitionID, err)
		}
	}
	return tx.Commit(ctx)
}

// CurrentAssignments returns the open assignment rows of the definition.
func (s *DefinitionStore) CurrentAssignments(ctx context.Context, definitionID int64) ([]AssignmentSpec, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT series_id, is_required, is_excluded
		FROM definition_series_assignments
		WHERE definition_id = $1 AND is_current
		ORDER BY series_id`,
		definitionID)
	if err != nil {
		return nil, fmt.Errorf("loading assignments of definition %d: %w", definitionID, err)
	}
	defer rows.Close()
	var out []AssignmentSpec
	for rows.Next() {
		var a AssignmentSpec
		if err := rows.Scan(&a.SeriesID, &a.IsRequired, &a.IsExcluded); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get loads one definition by id.
func (s *DefinitionStore) Get(ctx context.Context, id int64) (*apis.ChallengeDefinition, error) {
	row := s.pool.QueryRow(ctx, definitionColumns+` WHERE id = $1`, id)
	return scanDefinition(row)
}

// ListActive returns the active definitions ordered by schedule id.
func (s *DefinitionStore) ListActive(ctx context.Context) ([]*apis.ChallengeDefinition, error) {
	rows, err := s.pool.Query(ctx, definitionColumns+` WHERE is_active ORDER BY schedule_id`)
	if err != nil {
		return nil, fmt.Errorf("listing active definitions: %w", err)
	}
	defer rows.Close()
	var out []*apis.ChallengeDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

const definitionColumns = `
	SELECT id, schedule_id, description, domain, COALESCE(subdomain, ''), context_length,
	       horizon, frequency, announce_lead, registration_duration, evaluation_delay,
	       cron_expression, n_series, required_series, is_active, run_on_startup
	FROM challenge_definitions`

func scanDefinition(row pgx.Row) (*apis.ChallengeDefinition, error) {
	var def apis.ChallengeDefinition
	var horizon, frequency, announceLead, registration, evaluationDelay pgtype.Interval
	if err := row.Scan(
		&def.ID, &def.ScheduleID, &def.Description, &def.Domain, &def.Subdomain, &def.ContextLength,
		&horizon, &frequency, &announceLead, &registration, &evaluationDelay,
		&def.CronExpression, &def.NSeries, &def.RequiredSeries, &def.IsActive, &def.RunOnStartup,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning definition: %w", err)
	}
	def.Horizon = durationOf(horizon)
	def.Frequency = durationOf(frequency)
	def.AnnounceLead = durationOf(announceLead)
	def.RegistrationDuration = durationOf(registration)
	def.EvaluationDelay = durationOf(evaluationDelay)
	return &def, nil
}
