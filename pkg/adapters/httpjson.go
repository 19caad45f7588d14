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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/samber/lo"

	"github.com/forecastarena/arena/pkg/apis"
	"github.com/forecastarena/arena/pkg/utils/duration"
)

const (
	TypeHTTPJSON = "httpjson"

	defaultHTTPTimeout = 30 * time.Second
)

func init() {
	Register(TypeHTTPJSON, NewHTTPJSON)
}

var httpClient = &http.Client{Timeout: defaultHTTPTimeout}

// locationCache memoizes time.LoadLocation lookups across all adapter
// instances.
var locationCache = cache.New(cache.NoExpiration, cache.NoExpiration)

// httpJSONParams is the decoded default_params bag of the generic JSON
// adapter.
type httpJSONParams struct {
	url          string
	method       string
	headers      map[string]string
	query        map[string]string
	dataPath     string
	tsField      string
	valueField   string
	timeFormat   string
	startParam   string
	endParam     string
	endOffset    time.Duration
	pageSize     int
	pageParam    string
	totalPath    string
	timezonePath string
	rateLimit    *RateLimiter
}

func decodeHTTPParams(owner string, params map[string]interface{}) (*httpJSONParams, error) {
	p := &httpJSONParams{
		url:          stringParam(params, "url", ""),
		method:       stringParam(params, "method", http.MethodGet),
		headers:      stringMapParam(params, "headers"),
		query:        stringMapParam(params, "query"),
		dataPath:     stringParam(params, "data_path", "data"),
		tsField:      stringParam(params, "ts_field", "timestamp"),
		valueField:   stringParam(params, "value_field", "value"),
		timeFormat:   stringParam(params, "time_format", ""),
		startParam:   stringParam(params, "start_param", "start"),
		endParam:     stringParam(params, "end_param", "end"),
		pageSize:     intParam(params, "page_size", 0),
		pageParam:    stringParam(params, "offset_param", "offset"),
		totalPath:    stringParam(params, "total_path", ""),
		timezonePath: stringParam(params, "timezone_path", ""),
	}
	if p.url == "" {
		return nil, fmt.Errorf("%s: url is required", owner)
	}
	if offset := stringParam(params, "end_offset", ""); offset != "" {
		d, err := duration.Parse(offset)
		if err != nil {
			return nil, fmt.Errorf("%s: end_offset: %w", owner, err)
		}
		p.endOffset = d.Std()
	}
	// API keys come from the environment so config files stay free of
	// secrets.
	if envName := stringParam(params, "api_key_env", ""); envName != "" {
		key := os.Getenv(envName)
		if key == "" {
			return nil, fmt.Errorf("%s: environment variable %s is not set", owner, envName)
		}
		if header := stringParam(params, "api_key_header", ""); header != "" {
			if p.headers == nil {
				p.headers = map[string]string{}
			}
			p.headers[header] = key
		} else {
			if p.query == nil {
				p.query = map[string]string{}
			}
			p.query[stringParam(params, "api_key_param", "api_key")] = key
		}
	}
	if perMinute := intParam(params, "rate_limit_per_minute", 0); perMinute > 0 {
		p.rateLimit = SharedLimiter(stringParam(params, "rate_limit_key", p.url), perMinute)
	}
	return p, nil
}

// HTTPJSONAdapter pulls a single series from a paginated JSON endpoint.
type HTTPJSONAdapter struct {
	metadata apis.SeriesMetadata
	params   *httpJSONParams

	mu       sync.Mutex
	timezone string
}

func NewHTTPJSON(metadata apis.SeriesMetadata, params map[string]interface{}) (Adapter, error) {
	decoded, err := decodeHTTPParams(fmt.Sprintf("timeseries %q", metadata.UniqueID), params)
	if err != nil {
		return nil, err
	}
	return &HTTPJSONAdapter{metadata: metadata, params: decoded}, nil
}

func (a *HTTPJSONAdapter) Metadata() apis.SeriesMetadata { return a.metadata }

func (a *HTTPJSONAdapter) Timezone() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timezone
}

func (a *HTTPJSONAdapter) FetchHistorical(ctx context.Context, start time.Time, end *time.Time) ([]apis.DataPoint, error) {
	records, timezone, err := fetchPaginated(ctx, a.params, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", a.metadata.UniqueID, err)
	}
	if timezone != "" {
		a.mu.Lock()
		a.timezone = timezone
		a.mu.Unlock()
	}
	location, err := resolveLocation(timezone)
	if err != nil {
		return nil, err
	}
	points := make([]apis.DataPoint, 0, len(records))
	for _, record := range records {
		point, ok, err := decodePoint(record, a.params, location)
		if err != nil {
			return nil, fmt.Errorf("fetching %q: %w", a.metadata.UniqueID, err)
		}
		if ok {
			points = append(points, point)
		}
	}
	return points, nil
}

// fetchPaginated loops pages until a short page or the upstream total is
// reached. Without page_size a single request is made.
func fetchPaginated(ctx context.Context, p *httpJSONParams, start time.Time, end *time.Time) ([]map[string]interface{}, string, error) {
	var records []map[string]interface{}
	var timezone string
	offset := 0
	for {
		body, err := fetchPage(ctx, p, start, end, offset)
		if err != nil {
			return nil, "", err
		}
		page, err := extractRecords(body, p.dataPath)
		if err != nil {
			return nil, "", err
		}
		records = append(records, page...)
		if timezone == "" && p.timezonePath != "" {
			timezone, _ = lookupPath(body, p.timezonePath).(string)
		}
		if p.pageSize <= 0 || len(page) < p.pageSize {
			return records, timezone, nil
		}
		if p.totalPath != "" {
			if total, ok := asFloat(lookupPath(body, p.totalPath)); ok && len(records) >= int(total) {
				return records, timezone, nil
			}
		}
		offset += len(page)
	}
}

func fetchPage(ctx context.Context, p *httpJSONParams, start time.Time, end *time.Time, offset int) (interface{}, error) {
	if p.rateLimit != nil {
		if err := p.rateLimit.Wait(ctx); err != nil {
			return nil, err
		}
	}
	endpoint, err := url.Parse(p.url)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	query := endpoint.Query()
	for k, v := range p.query {
		query.Set(k, v)
	}
	query.Set(p.startParam, start.UTC().Format(time.RFC3339))
	if end != nil {
		query.Set(p.endParam, end.UTC().Format(time.RFC3339))
	} else if p.endOffset > 0 {
		query.Set(p.endParam, time.Now().Add(p.endOffset).UTC().Format(time.RFC3339))
	}
	if p.pageSize > 0 {
		query.Set("limit", strconv.Itoa(p.pageSize))
		query.Set(p.pageParam, strconv.Itoa(offset))
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, p.method, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, string(body))
	}
	var decoded interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return decoded, nil
}

func extractRecords(body interface{}, dataPath string) ([]map[string]interface{}, error) {
	node := lookupPath(body, dataPath)
	items, ok := node.([]interface{})
	if !ok {
		return nil, fmt.Errorf("data path %q does not resolve to an array", dataPath)
	}
	records := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		record, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("data path %q contains a non-object item", dataPath)
		}
		records = append(records, record)
	}
	return records, nil
}

// decodePoint extracts (ts, value) from one record. Records with a null
// value are skipped; gaps are the imputation layer's concern.
func decodePoint(record map[string]interface{}, p *httpJSONParams, location *time.Location) (apis.DataPoint, bool, error) {
	ts, err := parseTimestamp(record[p.tsField], p.timeFormat, location)
	if err != nil {
		return apis.DataPoint{}, false, err
	}
	raw, ok := record[p.valueField]
	if !ok || raw == nil {
		return apis.DataPoint{}, false, nil
	}
	value, ok := asFloat(raw)
	if !ok {
		return apis.DataPoint{}, false, fmt.Errorf("field %q holds non-numeric value %v", p.valueField, raw)
	}
	return apis.DataPoint{Ts: ts, Value: value}, true, nil
}

var naiveTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw interface{}, layout string, location *time.Location) (time.Time, error) {
	switch v := raw.(type) {
	case string:
		if layout != "" {
			if ts, err := time.ParseInLocation(layout, v, location); err == nil {
				return ts.UTC(), nil
			}
		}
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts.UTC(), nil
		}
		for _, naive := range naiveTimeLayouts {
			if ts, err := time.ParseInLocation(naive, v, location); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", v)
	case float64:
		// Epoch seconds, milliseconds above year ~2286.
		if v > 1e12 {
			return time.UnixMilli(int64(v)).UTC(), nil
		}
		return time.Unix(int64(v), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unparseable timestamp %v", raw)
	}
}

func resolveLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return time.UTC, nil
	}
	if cached, ok := locationCache.Get(timezone); ok {
		return cached.(*time.Location), nil
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}
	locationCache.SetDefault(timezone, location)
	return location, nil
}

// lookupPath walks a dot-separated path through nested JSON objects. An
// empty path returns the node itself.
func lookupPath(node interface{}, path string) interface{} {
	if path == "" {
		return node
	}
	for _, segment := range strings.Split(path, ".") {
		object, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node = object[segment]
	}
	return node
}

func asFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func stringParam(params map[string]interface{}, key, fallback string) string {
	if raw, ok := params[key]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return fallback
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	if raw, ok := params[key]; ok {
		if f, ok := asFloat(raw); ok {
			return int(f)
		}
	}
	return fallback
}

func stringMapParam(params map[string]interface{}, key string) map[string]string {
	raw, ok := params[key].(map[string]interface{})
	if !ok {
		return nil
	}
	return lo.MapValues(raw, func(v interface{}, _ string) string {
		s, _ := v.(string)
		return s
	})
}
