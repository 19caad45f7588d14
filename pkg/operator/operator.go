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

// Package operator assembles the process scaffolding shared by both
// binaries: logging, database pool, metrics endpoint and signal
// handling.
package operator

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/forecastarena/arena/pkg/metrics"
	"github.com/forecastarena/arena/pkg/operator/options"
	"github.com/forecastarena/arena/pkg/storage"
)

// Operator is the assembled process scaffolding.
type Operator struct {
	Options *options.Options
	Logger  *zap.Logger
	Pool    *pgxpool.Pool

	metricsServer *http.Server
}

// NewOperator builds the scaffolding or terminates the process; there
// is no degraded mode without a database.
func NewOperator(ctx context.Context, opts *options.Options) (*Operator, error) {
	logger, err := NewLogger(opts.LogLevel)
	if err != nil {
		return nil, err
	}
	pool, err := storage.NewPool(ctx, opts.DatabaseURL, int32(opts.DBMaxConns), logger)
	if err != nil {
		return nil, err
	}
	if err := storage.ApplySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Operator{Options: opts, Logger: logger, Pool: pool}, nil
}

// NewLogger builds the process logger at the configured level.
func NewLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// ServeMetrics exposes the shared registry on /metrics in the
// background.
func (o *Operator) ServeMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	o.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", o.Options.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := o.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			o.Logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	o.Logger.Info("serving metrics", zap.Int("port", o.Options.MetricsPort))
}

// Close releases the operator's resources.
func (o *Operator) Close(ctx context.Context) {
	if o.metricsServer != nil {
		if err := o.metricsServer.Shutdown(ctx); err != nil {
			o.Logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	o.Pool.Close()
	_ = o.Logger.Sync()
}

// SignalContext cancels on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
