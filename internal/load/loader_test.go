package load

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/agroclim/weather-pipeline/internal/common"
	"github.com/agroclim/weather-pipeline/internal/staging"
	"github.com/agroclim/weather-pipeline/internal/store"
	"github.com/agroclim/weather-pipeline/internal/weather"
)

var testLocation = weather.Location{Name: "iowa_center", Lat: 41.6005, Lon: -93.6091}

func records(rt weather.RecordType, start weather.Date, n int, tempMax float64) []weather.WeatherRecord {
	var out []weather.WeatherRecord
	for i := 0; i < n; i++ {
		out = append(out, weather.WeatherRecord{
			LocationName: testLocation.Name,
			Date:         start.AddDays(i),
			Type:         rt,
			Measurements: weather.Measurements{
				TemperatureMax:   common.Float64(tempMax),
				TemperatureMin:   common.Float64(10),
				PrecipitationSum: common.Float64(0.5),
			},
		})
	}
	return out
}

func newHarness(t *testing.T) (*Loader, *store.MemoryStore, *staging.Writer) {
	t.Helper()
	dir := t.TempDir()
	w, err := staging.NewWriter(dir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	mem := store.NewMemoryStore()
	return NewLoader(mem, staging.NewReader(dir)), mem, w
}

func TestLoadHistoricalArtifact(t *testing.T) {
	loader, mem, w := newHarness(t)
	start := weather.NewDate(2024, time.June, 1)

	id, err := w.Write(records(weather.RecordHistorical, start, 5, 25), testLocation, weather.RecordHistorical,
		time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	res, err := loader.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Inserted != 5 || res.Updated != 0 || res.Skipped != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if mem.RowCount() != 5 || mem.LocationCount() != 1 {
		t.Errorf("store has %d rows, %d locations", mem.RowCount(), mem.LocationCount())
	}
}

func TestLoadHistoricalIsIdempotent(t *testing.T) {
	loader, mem, w := newHarness(t)
	start := weather.NewDate(2024, time.June, 1)

	first, err := w.Write(records(weather.RecordHistorical, start, 5, 25), testLocation, weather.RecordHistorical,
		time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	second, err := w.Write(records(weather.RecordHistorical, start, 5, 25), testLocation, weather.RecordHistorical,
		time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := loader.Load(context.Background(), first); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	res, err := loader.Load(context.Background(), second)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}

	if res.Inserted != 0 || res.Skipped != 5 {
		t.Errorf("replay should skip everything, got %+v", res)
	}
	if mem.RowCount() != 5 {
		t.Errorf("replay duplicated rows: %d", mem.RowCount())
	}
	if len(res.Conflicts) != 0 {
		t.Errorf("identical replay flagged conflicts: %v", res.Conflicts)
	}
}

func TestLoadHistoricalConflictKeepsStoredRow(t *testing.T) {
	loader, mem, w := newHarness(t)
	start := weather.NewDate(2024, time.June, 1)

	first, err := w.Write(records(weather.RecordHistorical, start, 3, 25), testLocation, weather.RecordHistorical,
		time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	// Re-fetch with corrected values for the same days.
	second, err := w.Write(records(weather.RecordHistorical, start, 3, 30), testLocation, weather.RecordHistorical,
		time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := loader.Load(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	res, err := loader.Load(context.Background(), second)
	if err != nil {
		t.Fatalf("conflicting load must not fail: %v", err)
	}

	if len(res.Conflicts) != 3 || res.Skipped != 3 {
		t.Errorf("expected 3 conflicts, got %+v", res)
	}
	m, _ := mem.Row(testLocation.Name, start, weather.RecordHistorical)
	if *m.TemperatureMax != 25 {
		t.Errorf("stored row was overwritten: %v", *m.TemperatureMax)
	}
}

func TestLoadForecastRefreshOverwrites(t *testing.T) {
	loader, mem, w := newHarness(t)
	start := weather.NewDate(2024, time.June, 20)

	v1, err := w.Write(records(weather.RecordForecast, start, 7, 22), testLocation, weather.RecordForecast,
		time.Date(2024, 6, 19, 6, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	v2, err := w.Write(records(weather.RecordForecast, start, 7, 27), testLocation, weather.RecordForecast,
		time.Date(2024, 6, 20, 6, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := loader.Load(context.Background(), v1); err != nil {
		t.Fatal(err)
	}
	res, err := loader.Load(context.Background(), v2)
	if err != nil {
		t.Fatalf("Load v2: %v", err)
	}

	if res.Updated != 7 || res.Inserted != 0 {
		t.Errorf("refresh should update every row, got %+v", res)
	}
	if mem.RowCount() != 7 {
		t.Errorf("refresh duplicated forecast rows: %d", mem.RowCount())
	}
	m, _ := mem.Row(testLocation.Name, start, weather.RecordForecast)
	if *m.TemperatureMax != 27 {
		t.Errorf("forecast row kept stale value %v", *m.TemperatureMax)
	}
}

func TestLoadAbortsAtomicallyOnBadRecord(t *testing.T) {
	loader, mem, w := newHarness(t)
	start := weather.NewDate(2024, time.June, 1)

	recs := records(weather.RecordHistorical, start, 4, 25)
	// A record claiming a different location invalidates the artifact.
	recs[2].LocationName = "elsewhere"

	id, err := w.Write(recs, testLocation, weather.RecordHistorical,
		time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	_, err = loader.Load(context.Background(), id)
	var le *weather.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}

	if mem.RowCount() != 0 || mem.LocationCount() != 0 {
		t.Errorf("aborted load left partial state: %d rows, %d locations", mem.RowCount(), mem.LocationCount())
	}
}

func TestLoadRejectsEmptyArtifact(t *testing.T) {
	dir := t.TempDir()
	mem := store.NewMemoryStore()
	loader := NewLoader(mem, staging.NewReader(dir))

	id := "historical_iowa_center_20240610T000000Z.json"
	if err := os.WriteFile(filepath.Join(dir, id), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := loader.Load(context.Background(), id)
	var le *weather.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError for empty artifact, got %v", err)
	}
}

func TestLoadAllAggregatesFailures(t *testing.T) {
	loader, mem, w := newHarness(t)
	start := weather.NewDate(2024, time.June, 1)

	good, err := w.Write(records(weather.RecordHistorical, start, 2, 25), testLocation, weather.RecordHistorical,
		time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}

	bad := records(weather.RecordHistorical, start.AddDays(10), 2, 25)
	bad[0].LocationName = "elsewhere"
	if _, err := w.Write(bad, testLocation, weather.RecordHistorical,
		time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	results, err := loader.LoadAll(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) || len(merr.Errors) != 1 {
		t.Errorf("expected 1 aggregated failure, got %v", err)
	}

	if len(results) != 1 || results[0].Artifact != good {
		t.Errorf("good artifact should still load, got %+v", results)
	}
	if mem.RowCount() != 2 {
		t.Errorf("expected 2 rows from the good artifact, got %d", mem.RowCount())
	}
}
