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

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/forecastarena/arena/pkg/apis"
)

// ForecastStore is the read side of the externally-owned forecasts table.
type ForecastStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewForecastStore(pool *pgxpool.Pool, log *zap.Logger) *ForecastStore {
	return &ForecastStore{pool: pool, log: log.Named("forecast-store")}
}

// Participants returns the models that uploaded at least one forecast for
// the round.
func (s *ForecastStore) Participants(ctx context.Context, roundID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT model_id FROM forecasts WHERE round_id = $1 ORDER BY model_id`, roundID)
	if err != nil {
		return nil, fmt.Errorf("listing participants of round %d: %w", roundID, err)
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

// ForecastStats summarizes one (round, model, series) forecast set.
type ForecastStats struct {
	MinTs time.Time
	MaxTs time.Time
	Count int
}

// Stats returns the forecast envelope for the triple; Count zero means no
// forecasts were uploaded.
func (s *ForecastStore) Stats(ctx context.Context, roundID, modelID, seriesID int64) (ForecastStats, error) {
	var stats ForecastStats
	var minTs, maxTs *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT min(ts), max(ts), count(*) FROM forecasts
		WHERE round_id = $1 AND model_id = $2 AND series_id = $3`,
		roundID, modelID, seriesID).Scan(&minTs, &maxTs, &stats.Count)
	if err != nil {
		return ForecastStats{}, fmt.Errorf("loading forecast stats: %w", err)
	}
	if minTs != nil {
		stats.MinTs = *minTs
	}
	if maxTs != nil {
		stats.MaxTs = *maxTs
	}
	return stats, nil
}

// AlignedPair joins one forecast value with the observed actual at the
// same minute-truncated timestamp.
type AlignedPair struct {
	Predicted float64
	Actual    float64
}

// AlignedPairs joins forecasts to the actuals of the given resolution view
// on series and minute-truncated timestamp equality.
func (s *ForecastStore) AlignedPairs(ctx context.Context, roundID, modelID, seriesID int64, resolution apis.Resolution) ([]AlignedPair, error) {
	// View names come from the closed Resolution enumeration, never from
	// user input.
	query := fmt.Sprintf(`
		SELECT f.predicted_value, a.value
		FROM forecasts f
		JOIN %s a
		  ON a.series_id = f.series_id
		 AND date_trunc('minute', a.ts) = date_trunc('minute', f.ts)
		WHERE f.round_id = $1 AND f.model_id = $2 AND f.series_id = $3
		ORDER BY f.ts`, resolution.ViewName())
	rows, err := s.pool.Query(ctx, query, roundID, modelID, seriesID)
	if err != nil {
		return nil, fmt.Errorf("joining forecasts to actuals: %w", err)
	}
	defer rows.Close()
	var out []AlignedPair
	for rows.Next() {
		var p AlignedPair
		if err := rows.Scan(&p.Predicted, &p.Actual); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
