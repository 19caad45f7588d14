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

// Package storage holds the Postgres repositories shared by the supervisor
// and collector processes. Every repository method opens its work against
// the shared pgx pool and is safe for concurrent use; callers hold no
// session across calls.
package storage

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/forecastarena/arena/pkg/utils/duration"
)

//go:embed schema.sql
var schemaDDL string

// NewPool opens the shared connection pool. MaxConns bounds the total
// sessions of the process; the collection scheduler additionally holds a
// semaphore below this bound so jobs queue before the pool exhausts.
func NewPool(ctx context.Context, databaseURL string, maxConns int32, log *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.MaxConnLifetime = time.Hour
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	log.Info("connected to database", zap.Int32("max-conns", maxConns))
	return pool, nil
}

// ApplySchema creates the core's tables and views if they do not exist.
func ApplySchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range splitStatements(schemaDDL) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// splitStatements splits the embedded DDL on statement boundaries. The DDL
// contains no semicolons inside literals, so a line-end split suffices.
func splitStatements(ddl string) []string {
	var out []string
	for _, stmt := range strings.Split(ddl, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// truncateError clips persisted error messages to the column budget.
func truncateError(msg string, limit int) string {
	if len(msg) <= limit {
		return msg
	}
	return msg[:limit]
}

// pgInterval binds a duration as a database-native interval.
func pgInterval(d time.Duration) pgtype.Interval {
	return pgtype.Interval{Microseconds: d.Microseconds(), Valid: true}
}

// durationOf converts a scanned interval back into the canonical duration,
// applying the same fixed month/day ratios the codec uses.
func durationOf(iv pgtype.Interval) duration.Duration {
	d := time.Duration(iv.Microseconds) * time.Microsecond
	d += time.Duration(iv.Days) * 24 * time.Hour
	d += time.Duration(iv.Months) * 30 * 24 * time.Hour
	return duration.Duration(d).Truncate()
}
