package serving

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"sigetidwh/internal/facts"
	"sigetidwh/internal/warehouse"
	"sigetidwh/pkg/errors"
)

// Layer aggregates marts on demand for the dashboard endpoints. It is
// read-only: a serving error never mutates warehouse state.
type Layer struct {
	target   *warehouse.Service
	registry map[string]Mart
}

// NewLayer creates a serving layer over the built-in registry.
func NewLayer(target *warehouse.Service) *Layer {
	return &Layer{target: target, registry: Registry()}
}

// Marts returns the queryable mart names in deterministic order.
func (l *Layer) Marts() []string {
	names := make([]string, 0, len(l.registry))
	for name := range l.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Layer) mart(name string) (Mart, error) {
	mart, ok := l.registry[name]
	if !ok {
		return Mart{}, errors.ServingError(errors.ErrCodeUnknownMart,
			fmt.Sprintf("unknown mart %q", name))
	}
	return mart, nil
}

// Sum aggregates one measure under the given filters. When the measure's
// native grain is coarser than the mart's row grain, rows are first collapsed
// to one representative per native-grain group: a quarter-level collection
// value stored on three monthly rows is counted once, not three times.
func (l *Layer) Sum(ctx context.Context, martName, measureName string, filters Filters) (float64, error) {
	mart, err := l.mart(martName)
	if err != nil {
		return 0, err
	}
	measure, ok := mart.Measures[measureName]
	if !ok {
		return 0, errors.ServingError(errors.ErrCodeUnknownMeasure,
			fmt.Sprintf("unknown measure %q on mart %q", measureName, martName))
	}

	where, args, err := filters.where(mart)
	if err != nil {
		return 0, err
	}

	var query string
	if len(measure.NativeGrain) > 0 {
		query = fmt.Sprintf(
			"SELECT COALESCE(SUM(v), 0) FROM (SELECT MAX(%s) AS v FROM %s.%s%s GROUP BY %s) g",
			measure.Column, mart.Schema, mart.Table, where,
			strings.Join(measure.NativeGrain, ", "))
	} else {
		query = fmt.Sprintf("SELECT COALESCE(SUM(%s), 0) FROM %s.%s%s",
			measure.Column, mart.Schema, mart.Table, where)
	}

	var sum float64
	if err := l.target.QueryRowContext(ctx, query, args...).Scan(&sum); err != nil {
		return 0, errors.SQLError("failed to aggregate measure", query, err)
	}
	return sum, nil
}

// Rate computes a percentage as the ratio of two summed measures. Summing
// numerator and denominator independently before dividing weights the rate by
// volume: a 1-invoice enterprise does not pull the global payment rate as
// hard as a 1000-invoice one.
func (l *Layer) Rate(ctx context.Context, martName, rateName string, filters Filters) (float64, error) {
	mart, err := l.mart(martName)
	if err != nil {
		return 0, err
	}
	rate, ok := mart.Rates[rateName]
	if !ok {
		return 0, errors.ServingError(errors.ErrCodeUnknownMeasure,
			fmt.Sprintf("unknown rate %q on mart %q", rateName, martName))
	}

	numerator, err := l.Sum(ctx, martName, rate.Numerator, filters)
	if err != nil {
		return 0, err
	}
	denominator, err := l.Sum(ctx, martName, rate.Denominator, filters)
	if err != nil {
		return 0, err
	}
	if denominator == 0 {
		return 0, nil
	}
	return math.Round(numerator*100.0/denominator*100) / 100, nil
}

// Aggregate returns every measure and rate of a mart under the filters, plus
// its freshness timestamp, as a JSON-serializable map.
func (l *Layer) Aggregate(ctx context.Context, martName string, filters Filters) (map[string]interface{}, error) {
	mart, err := l.mart(martName)
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(mart.Measures)+len(mart.Rates)+1)
	for name := range mart.Measures {
		value, err := l.Sum(ctx, martName, name, filters)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	for name := range mart.Rates {
		value, err := l.Rate(ctx, martName, name, filters)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}

	freshness, err := l.Freshness(ctx, martName)
	if err != nil {
		return nil, err
	}
	if !freshness.IsZero() {
		out["refreshed_at"] = freshness.Format(time.RFC3339)
	}
	return out, nil
}

// Checksum returns the content fingerprint of a mart table. Two consecutive
// full refreshes over an unchanged source yield equal checksums.
func (l *Layer) Checksum(ctx context.Context, martName string) (string, error) {
	mart, err := l.mart(martName)
	if err != nil {
		return "", err
	}
	return l.target.TableChecksum(ctx, mart.Schema, mart.Table)
}

// Freshness returns when the mart was last rebuilt; zero when it never was.
func (l *Layer) Freshness(ctx context.Context, martName string) (time.Time, error) {
	mart, err := l.mart(martName)
	if err != nil {
		return time.Time{}, err
	}

	query := fmt.Sprintf(
		"SELECT COALESCE(MAX(refreshed_at), 'epoch'::timestamptz) FROM %s.refresh_log WHERE schema_name = $1 AND table_name = $2",
		facts.MetaSchema)

	var refreshedAt time.Time
	if err := l.target.QueryRowContext(ctx, query, mart.Schema, mart.Table).Scan(&refreshedAt); err != nil {
		return time.Time{}, errors.SQLError("failed to read mart freshness", query, err)
	}
	if refreshedAt.Unix() == 0 {
		return time.Time{}, nil
	}
	return refreshedAt, nil
}
