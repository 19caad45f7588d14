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
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/forecastarena/arena/pkg/apis"
)

// RoundStore persists challenge rounds, their pseudonymous series rows, and
// the immutable context snapshots.
type RoundStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewRoundStore(pool *pgxpool.Pool, log *zap.Logger) *RoundStore {
	return &RoundStore{pool: pool, log: log.Named("round-store")}
}

// Create inserts the round keyed by its unique name. A second call with the
// same name returns the existing round id with created false, which is what
// makes double cron fires idempotent.
func (s *RoundStore) Create(ctx context.Context, round *apis.ChallengeRound) (roundID int64, created bool, err error) {
	params, err := json.Marshal(round.PreparationParams)
	if err != nil {
		return 0, false, fmt.Errorf("encoding preparation params: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO challenge_rounds (
			definition_id, name, context_length, horizon, frequency,
			registration_start, registration_end, start_time, end_time, preparation_params
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO NOTHING
		RETURNING round_id`,
		round.DefinitionID, round.Name, round.ContextLength,
		pgInterval(round.Horizon.Std()), pgInterval(round.Frequency.Std()),
		round.RegistrationStart, round.RegistrationEnd, round.StartTime, round.EndTime, params,
	).Scan(&roundID)
	if err == nil {
		return roundID, true, nil
	}
	if err != pgx.ErrNoRows {
		return 0, false, fmt.Errorf("creating round %q: %w", round.Name, err)
	}
	err = s.pool.QueryRow(ctx,
		`SELECT round_id FROM challenge_rounds WHERE name = $1`, round.Name).Scan(&roundID)
	if err != nil {
		return 0, false, fmt.Errorf("resolving existing round %q: %w", round.Name, err)
	}
	return roundID, false, nil
}

// Get loads one round.
func (s *RoundStore) Get(ctx context.Context, roundID int64) (*apis.ChallengeRound, error) {
	row := s.pool.QueryRow(ctx, roundColumns+` WHERE round_id = $1`, roundID)
	return scanRound(row)
}

// PendingPreparations returns rounds that still have no context snapshot
// and have not ended. The supervisor re-registers their one-shot jobs on
// startup; past-due ones are coalesced into a single immediate run.
func (s *RoundStore) PendingPreparations(ctx context.Context) ([]*apis.ChallengeRound, error) {
	rows, err := s.pool.Query(ctx, roundColumns+`
		WHERE NOT is_cancelled
		  AND end_time > now()
		  AND NOT EXISTS (SELECT 1 FROM round_series rs WHERE rs.round_id = challenge_rounds.round_id)
		ORDER BY registration_start`)
	if err != nil {
		return nil, fmt.Errorf("listing pending preparations: %w", err)
	}
	defer rows.Close()
	var out []*apis.ChallengeRound
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, round)
	}
	return out, rows.Err()
}

// CandidateFilter narrows the random series sample drawn during round
// preparation.
type CandidateFilter struct {
	Domain       string
	Subdomain    string
	Frequency    time.Duration
	Resolution   apis.Resolution
	RecentWithin time.Duration
	Exclude      []int64
	Limit        int
}

// SelectCandidateSeries samples series that match the filter and have
// recent data per the availability table.
func (s *RoundStore) SelectCandidateSeries(ctx context.Context, f CandidateFilter) ([]int64, error) {
	if f.Limit <= 0 {
		return nil, nil
	}
	if f.Exclude == nil {
		f.Exclude = []int64{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ts.series_id
		FROM time_series ts
		JOIN time_series_data_availability a
		  ON a.series_id = ts.series_id AND a.resolution = $1
		WHERE ($2 = 'mixed' OR ts.domain = $2)
		  AND ($3 = '' OR ts.category = $3)
		  AND ts.frequency = $4
		  AND a.last_ts >= now() - $5::interval
		  AND NOT (ts.series_id = ANY($6))
		ORDER BY random()
		LIMIT $7`,
		string(f.Resolution), f.Domain, f.Subdomain, pgInterval(f.Frequency),
		pgInterval(f.RecentWithin), f.Exclude, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("sampling candidate series: %w", err)
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

// SeriesSelection names one selected series and its participant-facing
// pseudonym.
type SeriesSelection struct {
	SeriesID            int64
	ChallengeSeriesName string
}

// SaveContext copies the context window of every selected series and
// upserts the pseudonymous round_series rows with their statistics, all in
// one transaction. The copy is a time-travel read against the SCD2 history
// as of the round's cutoff instant, bucketed to the round resolution and
// bounded to timestamps before the round start.
func (s *RoundStore) SaveContext(ctx context.Context, round *apis.ChallengeRound, resolution apis.Resolution, selections []SeriesSelection) error {
	cutoff := round.PreparationParams.CutoffTime
	if cutoff.IsZero() {
		cutoff = round.CreatedAt
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning context snapshot of round %d: %w", round.RoundID, err)
	}
	defer tx.Rollback(ctx)

	for _, sel := range selections {
		if _, err := tx.Exec(ctx, `
			INSERT INTO round_context_data (round_id, series_id, ts, value)
			SELECT $1, $2, ctx.ts, ctx.value
			FROM (
				SELECT date_bin($3::interval, h.ts, TIMESTAMPTZ '2000-01-03') AS ts, avg(h.value) AS value
				FROM time_series_data_history h
				WHERE h.series_id = $2
				  AND h.ts < $4
				  AND h.valid_from <= $5
				  AND (h.valid_to IS NULL OR h.valid_to > $5)
				  AND h.value IS NOT NULL
				GROUP BY 1
				ORDER BY 1 DESC
				LIMIT $6
			) ctx
			ON CONFLICT (round_id, series_id, ts) DO NOTHING`,
			round.RoundID, sel.SeriesID, pgInterval(resolution.Bucket()),
			round.StartTime, cutoff, round.ContextLength,
		); err != nil {
			return fmt.Errorf("snapshotting context of series %d: %w", sel.SeriesID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO round_series (round_id, series_id, challenge_series_name, min_ts, max_ts, value_avg, value_std)
			SELECT $1, $2, $3, min(ts), max(ts), avg(value), COALESCE(stddev_pop(value), 0)
			FROM round_context_data
			WHERE round_id = $1 AND series_id = $2
			ON CONFLICT (round_id, series_id) DO UPDATE SET
				challenge_series_name = excluded.challenge_series_name,
				min_ts = excluded.min_ts,
				max_ts = excluded.max_ts,
				value_avg = excluded.value_avg,
				value_std = excluded.value_std`,
			round.RoundID, sel.SeriesID, sel.ChallengeSeriesName,
		); err != nil {
			return fmt.Errorf("saving round series %d: %w", sel.SeriesID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing context snapshot of round %d: %w", round.RoundID, err)
	}
	s.log.Info("round context prepared",
		zap.Int64("round-id", round.RoundID),
		zap.Int("series", len(selections)))
	return nil
}

// RoundSeries lists the pseudonymous series rows of the round.
func (s *RoundStore) RoundSeries(ctx context.Context, roundID int64) ([]apis.RoundSeries, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT round_id, series_id, challenge_series_name, min_ts, max_ts, value_avg, value_std
		FROM round_series WHERE round_id = $1 ORDER BY series_id`, roundID)
	if err != nil {
		return nil, fmt.Errorf("listing series of round %d: %w", roundID, err)
	}
	defer rows.Close()
	var out []apis.RoundSeries
	for rows.Next() {
		var rs apis.RoundSeries
		var minTs, maxTs *time.Time
		var avg, std *float64
		if err := rows.Scan(&rs.RoundID, &rs.SeriesID, &rs.ChallengeSeriesName, &minTs, &maxTs, &avg, &std); err != nil {
			return nil, err
		}
		if minTs != nil {
			rs.MinTs = *minTs
		}
		if maxTs != nil {
			rs.MaxTs = *maxTs
		}
		if avg != nil {
			rs.ValueAvg = *avg
		}
		if std != nil {
			rs.ValueStd = *std
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// ContextValueAt reads the single context value of the series at the given
// timestamp, used as the naive forecasting baseline.
func (s *RoundStore) ContextValueAt(ctx context.Context, roundID, seriesID int64, ts time.Time) (float64, error) {
	var value float64
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM round_context_data
		WHERE round_id = $1 AND series_id = $2 AND ts = $3`,
		roundID, seriesID, ts).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

const roundColumns = `
	SELECT round_id, definition_id, name, context_length, horizon, frequency,
	       registration_start, registration_end, start_time, end_time,
	       preparation_params, is_cancelled, created_at
	FROM challenge_rounds`

func scanRound(row pgx.Row) (*apis.ChallengeRound, error) {
	var round apis.ChallengeRound
	var horizon, frequency pgtype.Interval
	var params []byte
	if err := row.Scan(
		&round.RoundID, &round.DefinitionID, &round.Name, &round.ContextLength, &horizon, &frequency,
		&round.RegistrationStart, &round.RegistrationEnd, &round.StartTime, &round.EndTime,
		&params, &round.IsCancelled, &round.CreatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning round: %w", err)
	}
	round.Horizon = durationOf(horizon)
	round.Frequency = durationOf(frequency)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &round.PreparationParams); err != nil {
			return nil, fmt.Errorf("decoding preparation params of round %d: %w", round.RoundID, err)
		}
	}
	return &round, nil
}
