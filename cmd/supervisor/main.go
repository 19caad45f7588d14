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

// The supervisor runs the challenge lifecycle: definition sync, round
// creation, preparation, scoring and ELO ranking, under a restarting
// scheduler supervisor.
package main

import (
	"context"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/forecastarena/arena/pkg/config"
	"github.com/forecastarena/arena/pkg/controllers/elo"
	"github.com/forecastarena/arena/pkg/controllers/rounds"
	"github.com/forecastarena/arena/pkg/controllers/scoring"
	"github.com/forecastarena/arena/pkg/operator"
	"github.com/forecastarena/arena/pkg/operator/options"
	"github.com/forecastarena/arena/pkg/scheduler"
	"github.com/forecastarena/arena/pkg/storage"
)

func main() {
	opts := options.New("supervisor").MustParse()

	ctx, cancel := operator.SignalContext()
	defer cancel()

	op, err := operator.NewOperator(ctx, opts)
	if err != nil {
		panic(err)
	}
	defer op.Close(context.Background())
	op.ServeMetrics()

	clk := clock.RealClock{}
	supervisor := scheduler.NewSupervisor(op.Logger, clk, func(ctx context.Context) (*scheduler.Scheduler, error) {
		// The schedule file is re-read on every restart so a
		// corrected configuration takes effect without redeploying.
		schedules, err := config.LoadSchedules(opts.SchedulesFile)
		if err != nil {
			return nil, err
		}

		s := scheduler.New(op.Logger, clk)

		definitions := storage.NewDefinitionStore(op.Pool, op.Logger)
		roundStore := storage.NewRoundStore(op.Pool, op.Logger)
		series := storage.NewSeriesStore(op.Pool, op.Logger)
		scores := storage.NewScoreStore(op.Pool, op.Logger)
		forecasts := storage.NewForecastStore(op.Pool, op.Logger)
		eloStore := storage.NewEloStore(op.Pool, op.Logger)

		roundsController := rounds.NewController(definitions, roundStore, series, clk, op.Logger)
		if err := roundsController.SyncDefinitions(ctx, s, schedules); err != nil {
			return nil, err
		}
		if err := roundsController.RecoverPendingPreparations(ctx, s); err != nil {
			return nil, err
		}

		scoringController := scoring.NewController(scores, forecasts, roundStore, clk, op.Logger)
		if err := scoringController.Register(s); err != nil {
			return nil, err
		}

		eloController := elo.NewController(eloStore, definitions, elo.DefaultOptions(), clk, op.Logger)
		if err := eloController.Register(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	})

	if err := supervisor.Start(ctx); err != nil {
		op.Logger.Fatal("supervisor exited", zap.Error(err))
	}
	op.Logger.Info("supervisor stopped")
}
