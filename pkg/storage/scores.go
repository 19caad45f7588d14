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
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/forecastarena/arena/pkg/apis"
)

// maxErrorMessageLen bounds the persisted evaluation error text.
const maxErrorMessageLen = 500

// ScoreStore owns all mutations of the scores table.
type ScoreStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewScoreStore(pool *pgxpool.Pool, log *zap.Logger) *ScoreStore {
	return &ScoreStore{pool: pool, log: log.Named("score-store")}
}

// RoundsNeedingEvaluation discovers rounds that are active or completed and
// either have no scores yet or still carry non-final scores.
func (s *ScoreStore) RoundsNeedingEvaluation(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.round_id
		FROM challenge_rounds r
		WHERE NOT r.is_cancelled
		  AND r.start_time <= now()
		  AND (
			NOT EXISTS (SELECT 1 FROM scores sc WHERE sc.round_id = r.round_id)
			OR EXISTS (SELECT 1 FROM scores sc WHERE sc.round_id = r.round_id AND NOT sc.final_evaluation)
		  )
		ORDER BY r.round_id`)
	if err != nil {
		return nil, fmt.Errorf("discovering rounds needing evaluation: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertBatch writes the scores in one batch; conflicting triples are
// replaced with the fresh evaluation.
func (s *ScoreStore) UpsertBatch(ctx context.Context, scores []apis.Score) error {
	if len(scores) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sc := range scores {
		batch.Queue(`
			INSERT INTO scores (
				round_id, model_id, series_id, mase, rmse,
				forecast_count, actual_count, evaluated_count, data_coverage,
				evaluation_status, error_message, final_evaluation, calculated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), false, now())
			ON CONFLICT (round_id, model_id, series_id) DO UPDATE SET
				mase = excluded.mase,
				rmse = excluded.rmse,
				forecast_count = excluded.forecast_count,
				actual_count = excluded.actual_count,
				evaluated_count = excluded.evaluated_count,
				data_coverage = excluded.data_coverage,
				evaluation_status = excluded.evaluation_status,
				error_message = excluded.error_message,
				final_evaluation = excluded.final_evaluation,
				calculated_at = excluded.calculated_at`,
			sc.RoundID, sc.ModelID, sc.SeriesID, sc.MASE, sc.RMSE,
			sc.ForecastCount, sc.ActualCount, sc.EvaluatedCount, sc.DataCoverage,
			string(sc.Status), truncateError(sc.ErrorMessage, maxErrorMessageLen))
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range scores {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting scores: %w", err)
		}
	}
	return nil
}

// Finalize flips final_evaluation for all of the round's scores, but only
// once the round has been over for the settle delay and every score is
// complete. Returns whether finalization happened.
func (s *ScoreStore) Finalize(ctx context.Context, roundID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scores SET final_evaluation = true
		WHERE round_id = $1
		  AND NOT final_evaluation
		  AND EXISTS (
			SELECT 1 FROM challenge_rounds r
			WHERE r.round_id = $1 AND r.end_time + INTERVAL '1 hour' <= now())
		  AND NOT EXISTS (
			SELECT 1 FROM scores sc
			WHERE sc.round_id = $1 AND sc.evaluation_status <> 'complete')`,
		roundID)
	if err != nil {
		return false, fmt.Errorf("finalizing scores of round %d: %w", roundID, err)
	}
	if tag.RowsAffected() > 0 {
		s.log.Info("round scores finalized",
			zap.Int64("round-id", roundID),
			zap.Int64("scores", tag.RowsAffected()))
		return true, nil
	}
	return false, nil
}
