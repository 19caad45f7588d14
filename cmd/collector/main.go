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

// The collector runs the data portal: it registers every configured
// series adapter on a scheduler, backfills on startup and keeps the
// operational and historical tables current.
package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/forecastarena/arena/pkg/config"
	"github.com/forecastarena/arena/pkg/controllers/collection"
	"github.com/forecastarena/arena/pkg/operator"
	"github.com/forecastarena/arena/pkg/operator/options"
	"github.com/forecastarena/arena/pkg/scheduler"
	"github.com/forecastarena/arena/pkg/storage"
)

const stopTimeout = 30 * time.Second

func main() {
	opts := options.New("collector").MustParse()

	ctx, cancel := operator.SignalContext()
	defer cancel()

	op, err := operator.NewOperator(ctx, opts)
	if err != nil {
		panic(err)
	}
	defer op.Close(context.Background())
	op.ServeMetrics()

	portal, err := config.LoadPortal(opts.PortalFile)
	if err != nil {
		op.Logger.Fatal("loading portal configuration", zap.Error(err))
	}

	clk := clock.RealClock{}
	s := scheduler.New(op.Logger, clk)

	series := storage.NewSeriesStore(op.Pool, op.Logger)
	controller := collection.NewController(series, collection.DefaultOptions(), clk, op.Logger)
	if err := controller.RegisterFromPortal(s, portal); err != nil {
		op.Logger.Fatal("registering portal adapters", zap.Error(err))
	}

	controller.InitialFetch(ctx)

	if err := s.Run(ctx, stopTimeout); err != nil {
		op.Logger.Fatal("scheduler exited", zap.Error(err))
	}
	op.Logger.Info("collector stopped")
}
