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

package options

import (
	"flag"
	"os"

	"github.com/forecastarena/arena/pkg/utils/env"
)

// Options for running the supervisor and collector binaries.
type Options struct {
	*flag.FlagSet
	// Shared
	DatabaseURL string
	DBMaxConns  int
	LogLevel    string
	MetricsPort int
	// Supervisor
	SchedulesFile string
	// Collector
	PortalFile string
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New(name string) *Options {
	opts := &Options{}
	f := flag.NewFlagSet(name, flag.ContinueOnError)
	opts.FlagSet = f

	f.StringVar(&opts.DatabaseURL, "database-url", env.WithDefaultString("DATABASE_URL", ""), "The PostgreSQL connection string. Required.")
	f.IntVar(&opts.DBMaxConns, "db-max-conns", env.WithDefaultInt("DB_MAX_CONNS", 10), "The maximum size of the database connection pool")
	f.StringVar(&opts.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "The minimum log level, one of debug, info, warn, error")
	f.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8080), "The port the metric endpoint binds to")
	f.StringVar(&opts.SchedulesFile, "schedules-file", env.WithDefaultString("SCHEDULES_FILE", "schedules.yaml"), "The challenge schedules configuration file")
	f.StringVar(&opts.PortalFile, "portal-file", env.WithDefaultString("PORTAL_FILE", "portal.yaml"), "The data portal configuration file")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	if err := o.Parse(os.Args[1:]); err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}
