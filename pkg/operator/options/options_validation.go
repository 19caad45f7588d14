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
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/multierr"
)

var validLogLevels = []string{"debug", "info", "warn", "error"}

func (o Options) Validate() (err error) {
	err = multierr.Append(err, o.validateDatabaseURL())
	err = multierr.Append(err, o.validateLogLevel())
	if o.DBMaxConns <= 0 {
		err = multierr.Append(err, fmt.Errorf("db-max-conns must be positive"))
	}
	if o.MetricsPort <= 0 || o.MetricsPort > 65535 {
		err = multierr.Append(err, fmt.Errorf("metrics-port %d is out of range", o.MetricsPort))
	}
	return err
}

func (o Options) validateDatabaseURL() error {
	if o.DatabaseURL == "" {
		return fmt.Errorf("database-url is required")
	}
	return nil
}

func (o Options) validateLogLevel() error {
	if !lo.Contains(validLogLevels, o.LogLevel) {
		return fmt.Errorf("log-level %q is not one of %v", o.LogLevel, validLogLevels)
	}
	return nil
}
