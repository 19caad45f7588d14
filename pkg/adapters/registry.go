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

package adapters

import (
	"fmt"
	"sync"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/utils/duration"
)

// Factory builds a single-series adapter from its portal configuration.
type Factory func(metadata apis.SeriesMetadata, params map[string]interface{}) (Adapter, error)

// MultiFactory builds a multi-series adapter from its portal
// configuration.
type MultiFactory func(groupID string, schedule duration.Duration, requestParams map[string]interface{}, series []SeriesDefinition) (MultiAdapter, error)

var (
	registryMu     sync.RWMutex
	factories      = map[string]Factory{}
	multiFactories = map[string]MultiFactory{}
)

// Register binds a single-series factory to a portal type tag. Built-in
// adapters register from init; duplicate tags panic at startup.
func Register(typeTag string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := factories[typeTag]; ok {
		panic(fmt.Sprintf("adapter type %q registered twice", typeTag))
	}
	factories[typeTag] = factory
}

// RegisterMulti binds a multi-series factory to a portal type tag.
func RegisterMulti(typeTag string, factory MultiFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := multiFactories[typeTag]; ok {
		panic(fmt.Sprintf("adapter type %q registered twice", typeTag))
	}
	multiFactories[typeTag] = factory
}

// New resolves the type tag and builds the adapter.
func New(typeTag string, metadata apis.SeriesMetadata, params map[string]interface{}) (Adapter, error) {
	registryMu.RLock()
	factory, ok := factories[typeTag]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown adapter type %q", typeTag)
	}
	return factory(metadata, params)
}

// NewMulti resolves the type tag and builds the multi-series adapter.
func NewMulti(typeTag, groupID string, schedule duration.Duration, requestParams map[string]interface{}, series []SeriesDefinition) (MultiAdapter, error) {
	registryMu.RLock()
	factory, ok := multiFactories[typeTag]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown adapter type %q", typeTag)
	}
	return factory(groupID, schedule, requestParams, series)
}
