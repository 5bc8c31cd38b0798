// Package store is the contract the Load Orchestrator writes through:
// two relational entities, locations keyed on unique name and weather rows
// keyed on unique (location_id, date, data_type).
package store

import (
	"context"

	"github.com/agroclim/weather-pipeline/internal/common"
	"github.com/agroclim/weather-pipeline/internal/weather"
)

// RowResult reports what loading one record did to the store.
type RowResult int

const (
	// RowInserted means a new row was created.
	RowInserted RowResult = iota
	// RowUpdated means an existing forecast row was overwritten.
	RowUpdated
	// RowSkipped means an identical historical row already existed.
	RowSkipped
	// RowConflict means a historical row already existed with different
	// values; the stored row is kept and the mismatch is a data-quality
	// warning, not an error.
	RowConflict
)

func (r RowResult) String() string {
	switch r {
	case RowInserted:
		return "inserted"
	case RowUpdated:
		return "updated"
	case RowSkipped:
		return "skipped"
	case RowConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Batch is the transaction-scoped surface: every call inside one
// RunInTransaction callback commits or rolls back together.
type Batch interface {
	// GetOrCreateLocation resolves a location name to its row id, creating
	// the row if absent. Idempotent, keyed on the unique name.
	GetOrCreateLocation(ctx context.Context, name string) (int64, error)

	// InsertHistorical inserts the record if absent and skips otherwise.
	// Historical facts are never modified once recorded.
	InsertHistorical(ctx context.Context, locationID int64, rec weather.WeatherRecord) (RowResult, error)

	// UpsertForecast inserts or overwrites the record unconditionally;
	// the same future date receives fresher forecasts across runs.
	UpsertForecast(ctx context.Context, locationID int64, rec weather.WeatherRecord) (RowResult, error)
}

// Store opens per-artifact transactions against the relational target.
type Store interface {
	// RunInTransaction runs fn inside a single atomic transaction; any
	// error from fn rolls back every change fn made.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, b Batch) error) error
	Close()
}

// measurementsEqual compares all nine nullable fields.
func measurementsEqual(a, b weather.Measurements) bool {
	return common.Float64Equal(a.WeatherCode, b.WeatherCode) &&
		common.Float64Equal(a.TemperatureMax, b.TemperatureMax) &&
		common.Float64Equal(a.TemperatureMin, b.TemperatureMin) &&
		common.Float64Equal(a.DaylightDuration, b.DaylightDuration) &&
		common.Float64Equal(a.PrecipitationSum, b.PrecipitationSum) &&
		common.Float64Equal(a.ShortwaveRadiationSum, b.ShortwaveRadiationSum) &&
		common.Float64Equal(a.ET0Evapotranspiration, b.ET0Evapotranspiration) &&
		common.Float64Equal(a.SoilMoistureMean, b.SoilMoistureMean) &&
		common.Float64Equal(a.VapourPressureDeficitMax, b.VapourPressureDeficitMax)
}
