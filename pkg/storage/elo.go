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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/forecastarena/arena/pkg/apis"
)

// EloStore reads finalized MASE matrices and persists bootstrapped ratings.
type EloStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewEloStore(pool *pgxpool.Pool, log *zap.Logger) *EloStore {
	return &EloStore{pool: pool, log: log.Named("elo-store")}
}

// MatchScore is one finalized, finite MASE observation: the match is the
// (round, series) pair, the contestant is the model.
type MatchScore struct {
	RoundID  int64
	SeriesID int64
	ModelID  int64
	MASE     float64
}

// FinalMASE selects finalized, finite MASE values, optionally narrowed to a
// definition scope and a trailing time window over round end times.
func (s *EloStore) FinalMASE(ctx context.Context, definitionID *int64, window *time.Duration) ([]MatchScore, error) {
	windowArg := pgtype.Interval{}
	if window != nil {
		windowArg = pgInterval(*window)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT s.round_id, s.series_id, s.model_id, s.mase
		FROM scores s
		JOIN challenge_rounds r ON r.round_id = s.round_id
		WHERE s.final_evaluation
		  AND s.mase IS NOT NULL
		  AND s.mase <> 'NaN'::float8
		  AND s.mase <> 'Infinity'::float8
		  AND s.mase <> '-Infinity'::float8
		  AND ($1::bigint IS NULL OR r.definition_id = $1)
		  AND ($2::interval IS NULL OR r.end_time >= now() - $2::interval)
		ORDER BY s.round_id, s.series_id, s.model_id`,
		definitionID, windowArg)
	if err != nil {
		return nil, fmt.Errorf("loading finalized MASE scores: %w", err)
	}
	defer rows.Close()
	var out []MatchScore
	for rows.Next() {
		var m MatchScore
		if err := rows.Scan(&m.RoundID, &m.SeriesID, &m.ModelID, &m.MASE); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertRatings persists the ratings, mapping the nil scope and window onto
// the -1/0 sentinels that carry the uniqueness constraint.
func (s *EloStore) UpsertRatings(ctx context.Context, ratings []apis.EloRating) error {
	if len(ratings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range ratings {
		definitionID := int64(-1)
		if r.DefinitionID != nil {
			definitionID = *r.DefinitionID
		}
		periodDays := 0
		if r.TimePeriodDays != nil {
			periodDays = *r.TimePeriodDays
		}
		batch.Queue(`
			INSERT INTO elo_ratings (
				model_id, definition_id, time_period_days,
				elo_score, elo_ci_lower, elo_ci_upper,
				n_matches, n_bootstraps, calculation_duration_ms, calculated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			ON CONFLICT (model_id, definition_id, time_period_days) DO UPDATE SET
				elo_score = excluded.elo_score,
				elo_ci_lower = excluded.elo_ci_lower,
				elo_ci_upper = excluded.elo_ci_upper,
				n_matches = excluded.n_matches,
				n_bootstraps = excluded.n_bootstraps,
				calculation_duration_ms = excluded.calculation_duration_ms,
				calculated_at = excluded.calculated_at`,
			r.ModelID, definitionID, periodDays,
			r.Score, r.CiLower, r.CiUpper,
			r.NMatches, r.NBootstraps, r.CalculationDuration.Milliseconds())
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range ratings {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting elo ratings: %w", err)
		}
	}
	return nil
}

// LatestCalculation returns the most recent rating calculation instant, or
// the zero time when none exists. The ELO controller uses it for the
// startup back-check.
func (s *EloStore) LatestCalculation(ctx context.Context) (time.Time, error) {
	var latest *time.Time
	if err := s.pool.QueryRow(ctx,
		`SELECT max(calculated_at) FROM elo_ratings`).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("loading latest elo calculation: %w", err)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return *latest, nil
}
