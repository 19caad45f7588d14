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
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/forecastarena/arena/pkg/apis"
)

// SeriesStore is the time-series sink: series registration, the
// operational table, and the SCD Type-2 history.
type SeriesStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewSeriesStore(pool *pgxpool.Pool, log *zap.Logger) *SeriesStore {
	return &SeriesStore{pool: pool, log: log.Named("series-store")}
}

// GetOrCreate registers the series keyed by its unique id, refreshing the
// mutable metadata on conflict, and returns the surrogate id.
func (s *SeriesStore) GetOrCreate(ctx context.Context, md apis.SeriesMetadata) (int64, error) {
	var seriesID int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO time_series (unique_id, name, description, frequency, update_frequency, unit, domain, category, subcategory, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''))
		ON CONFLICT (unique_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			frequency = excluded.frequency,
			update_frequency = excluded.update_frequency,
			unit = excluded.unit,
			domain = excluded.domain,
			category = excluded.category,
			subcategory = excluded.subcategory,
			updated_at = now()
		RETURNING series_id`,
		md.UniqueID, md.Name, md.Description, pgInterval(md.Frequency.Std()), pgInterval(md.UpdateFrequency.Std()),
		md.Unit, md.Domain, md.Category, md.Subcategory, md.Timezone,
	).Scan(&seriesID)
	if err != nil {
		return 0, fmt.Errorf("registering series %q: %w", md.UniqueID, err)
	}
	return seriesID, nil
}

// Names resolves the display names of the given series ids. Missing ids
// are absent from the result, not an error.
func (s *SeriesStore) Names(ctx context.Context, seriesIDs []int64) (map[int64]string, error) {
	if len(seriesIDs) == 0 {
		return map[int64]string{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT series_id, name FROM time_series WHERE series_id = ANY($1)`, seriesIDs)
	if err != nil {
		return nil, fmt.Errorf("resolving series names: %w", err)
	}
	defer rows.Close()
	names := make(map[int64]string, len(seriesIDs))
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// UpdateTimezone records a timezone detected by an adapter. Timezone is not
// refreshed by GetOrCreate because detection happens during the fetch, not
// in the static configuration.
func (s *SeriesStore) UpdateTimezone(ctx context.Context, seriesID int64, timezone string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE time_series SET timezone = $2, updated_at = now()
		WHERE series_id = $1 AND timezone IS DISTINCT FROM $2`,
		seriesID, timezone)
	if err != nil {
		return fmt.Errorf("updating timezone of series %d: %w", seriesID, err)
	}
	return nil
}

// UpsertOperational bulk-upserts points into the operational table with
// latest-wins semantics. Duplicate timestamps within the batch collapse to
// the last occurrence. Returns rows affected.
func (s *SeriesStore) UpsertOperational(ctx context.Context, seriesID int64, points []apis.DataPoint) (int64, error) {
	points = dedupeByTs(points)
	if len(points) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO time_series_data (series_id, ts, value)
		SELECT $1, t.ts, t.value
		FROM unnest($2::timestamptz[], $3::float8[]) AS t(ts, value)
		ON CONFLICT (series_id, ts) DO UPDATE SET value = excluded.value`,
		seriesID,
		lo.Map(points, func(p apis.DataPoint, _ int) time.Time { return p.Ts }),
		lo.Map(points, func(p apis.DataPoint, _ int) float64 { return p.Value }),
	)
	if err != nil {
		return 0, fmt.Errorf("upserting %d points of series %d: %w", len(points), seriesID, err)
	}
	return tag.RowsAffected(), nil
}

// UpsertHistory appends to the SCD Type-2 history in a single statement:
// open versions whose (value, quality) differ from the incoming tuple are
// closed and a new current version is inserted; matching tuples are left
// untouched. Replaying a batch therefore reports everything unchanged.
func (s *SeriesStore) UpsertHistory(ctx context.Context, seriesID int64, points []apis.QualityPoint) (apis.SinkResult, error) {
	points = dedupeQualityByTs(points)
	if len(points) == 0 {
		return apis.SinkResult{}, nil
	}
	var inserted, updated int64
	err := s.pool.QueryRow(ctx, `
		WITH incoming AS (
			SELECT * FROM unnest($2::timestamptz[], $3::float8[], $4::smallint[]) AS t(ts, value, quality_code)
		), closed AS (
			UPDATE time_series_data_history h
			SET valid_to = now(), is_current = false
			FROM incoming i
			WHERE h.series_id = $1 AND h.ts = i.ts AND h.is_current
			  AND (h.value IS DISTINCT FROM i.value OR h.quality_code IS DISTINCT FROM i.quality_code)
			RETURNING h.ts
		), opened AS (
			INSERT INTO time_series_data_history (series_id, ts, value, quality_code, valid_from, valid_to, is_current)
			SELECT $1, i.ts, i.value, i.quality_code, now(), NULL, true
			FROM incoming i
			WHERE EXISTS (SELECT 1 FROM closed c WHERE c.ts = i.ts)
			   OR NOT EXISTS (
					SELECT 1 FROM time_series_data_history h
					WHERE h.series_id = $1 AND h.ts = i.ts AND h.is_current)
			RETURNING ts
		)
		SELECT (SELECT count(*) FROM opened), (SELECT count(*) FROM closed)`,
		seriesID,
		lo.Map(points, func(p apis.QualityPoint, _ int) time.Time { return p.Ts }),
		lo.Map(points, func(p apis.QualityPoint, _ int) *float64 { return p.Value }),
		lo.Map(points, func(p apis.QualityPoint, _ int) int16 { return int16(p.Quality) }),
	).Scan(&inserted, &updated)
	if err != nil {
		return apis.SinkResult{}, fmt.Errorf("upserting history of series %d: %w", seriesID, err)
	}
	result := apis.SinkResult{
		Inserted:  inserted,
		Updated:   updated,
		Unchanged: int64(len(points)) - inserted,
	}
	s.log.Debug("history upsert",
		zap.Int64("series-id", seriesID),
		zap.Int64("inserted", result.Inserted),
		zap.Int64("updated", result.Updated),
		zap.Int64("unchanged", result.Unchanged))
	return result, nil
}

// RefreshAvailability records the freshest timestamp per resolution so the
// round materializer can select series with recent data.
func (s *SeriesStore) RefreshAvailability(ctx context.Context, seriesID int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO time_series_data_availability (series_id, resolution, last_ts, updated_at)
		SELECT $1, r.resolution, max(d.ts), now()
		FROM time_series_data d
		CROSS JOIN (VALUES ('15min'), ('1h'), ('1d')) AS r(resolution)
		WHERE d.series_id = $1
		GROUP BY r.resolution
		ON CONFLICT (series_id, resolution) DO UPDATE SET
			last_ts = excluded.last_ts,
			updated_at = excluded.updated_at`,
		seriesID)
	if err != nil {
		return fmt.Errorf("refreshing availability of series %d: %w", seriesID, err)
	}
	return nil
}

// dedupeByTs keeps the last occurrence per timestamp, preserving order of
// first appearance.
func dedupeByTs(points []apis.DataPoint) []apis.DataPoint {
	if len(points) < 2 {
		return points
	}
	index := map[int64]int{}
	out := make([]apis.DataPoint, 0, len(points))
	for _, p := range points {
		key := p.Ts.UnixNano()
		if i, ok := index[key]; ok {
			out[i] = p
			continue
		}
		index[key] = len(out)
		out = append(out, p)
	}
	return out
}

func dedupeQualityByTs(points []apis.QualityPoint) []apis.QualityPoint {
	if len(points) < 2 {
		return points
	}
	index := map[int64]int{}
	out := make([]apis.QualityPoint, 0, len(points))
	for _, p := range points {
		key := p.Ts.UnixNano()
		if i, ok := index[key]; ok {
			out[i] = p
			continue
		}
		index[key] = len(out)
		out = append(out, p)
	}
	return out
}
