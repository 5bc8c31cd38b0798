package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agroclim/weather-pipeline/internal/config"
	"github.com/agroclim/weather-pipeline/internal/fetch"
	"github.com/agroclim/weather-pipeline/internal/load"
	"github.com/agroclim/weather-pipeline/internal/normalize"
	"github.com/agroclim/weather-pipeline/internal/staging"
	"github.com/agroclim/weather-pipeline/internal/store"
	"github.com/agroclim/weather-pipeline/internal/weather"
)

// dailyBody renders an API response of n consecutive days starting at
// start. Days listed in corrupt get a non-numeric temperature.
func dailyBody(start weather.Date, n int, corrupt map[int]bool) string {
	var dates, numeric, temps []string
	for i := 0; i < n; i++ {
		dates = append(dates, fmt.Sprintf("%q", start.AddDays(i).String()))
		numeric = append(numeric, "1.0")
		if corrupt[i] {
			temps = append(temps, `"sensor_error"`)
		} else {
			temps = append(temps, fmt.Sprintf("%.1f", 20.0+float64(i)))
		}
	}
	cols := func(vals []string) string { return "[" + strings.Join(vals, ",") + "]" }
	return fmt.Sprintf(`{
		"latitude": 41.6, "longitude": -93.6,
		"daily": {
			"time": %s,
			"weather_code": %s,
			"temperature_2m_max": %s,
			"temperature_2m_min": %s,
			"daylight_duration": %s,
			"precipitation_sum": %s,
			"shortwave_radiation_sum": %s,
			"et0_fao_evapotranspiration": %s,
			"soil_moisture_0_to_100cm_mean": %s,
			"vapour_pressure_deficit_max": %s
		}
	}`, cols(dates), cols(numeric), cols(temps), cols(numeric), cols(numeric),
		cols(numeric), cols(numeric), cols(numeric), cols(numeric), cols(numeric))
}

func testConfig(archiveURL, forecastURL, stagingDir string, locs ...weather.Location) *config.AppConfig {
	return &config.AppConfig{
		ArchiveURL:        archiveURL,
		ForecastURL:       forecastURL,
		StagingDir:        stagingDir,
		HistoricalStart:   weather.NewDate(2024, time.June, 1),
		HistoricalLagDays: 2,
		ForecastDays:      7,
		ForecastPastDays:  1,
		SkipThreshold:     0.10,
		Locations:         locs,
	}
}

func newPipeline(t *testing.T, cfg *config.AppConfig, mem *store.MemoryStore) *Pipeline {
	t.Helper()

	client := fetch.NewClient(http.DefaultClient, cfg.ArchiveURL, cfg.ForecastURL, fetch.BackoffConfig{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, nil)

	writer, err := staging.NewWriter(cfg.StagingDir)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	loader := load.NewLoader(mem, staging.NewReader(cfg.StagingDir))

	p := New(cfg, client, normalize.New(cfg.SkipThreshold), writer, loader)
	// Fixed clock: the historical window becomes 2024-06-01..2024-06-10.
	p.Now = func() time.Time { return time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC) }
	return p
}

func TestRunHistoricalEndToEnd(t *testing.T) {
	start := weather.NewDate(2024, time.June, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start_date") != "2024-06-01" || r.URL.Query().Get("end_date") != "2024-06-10" {
			t.Errorf("unexpected window %s..%s", r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date"))
		}
		// Day 4 carries a sensor placeholder instead of a number.
		fmt.Fprint(w, dailyBody(start, 10, map[int]bool{3: true}))
	}))
	defer srv.Close()

	loc := weather.Location{Name: "iowa_center", Lat: 41.6005, Lon: -93.6091}
	mem := store.NewMemoryStore()
	p := newPipeline(t, testConfig(srv.URL, srv.URL, t.TempDir(), loc), mem)

	summary := p.Run(context.Background(), Options{Historical: true})
	if summary.Failed() {
		t.Fatalf("run failed: %+v", summary.Statuses)
	}
	if len(summary.Statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(summary.Statuses))
	}

	st := summary.Statuses[0]
	if st.Records != 9 || st.SkippedDays != 1 {
		t.Errorf("expected 9 records and 1 skip, got %d/%d", st.Records, st.SkippedDays)
	}
	if st.Load.Inserted != 9 {
		t.Errorf("expected 9 inserted rows, got %+v", st.Load)
	}
	if mem.RowCount() != 9 || mem.LocationCount() != 1 {
		t.Errorf("store has %d rows, %d locations", mem.RowCount(), mem.LocationCount())
	}

	// The skipped day must not exist in the store.
	if _, ok := mem.Row(loc.Name, start.AddDays(3), weather.RecordHistorical); ok {
		t.Error("corrupt day was loaded")
	}

	if p.LastSummary() != summary {
		t.Error("LastSummary should return the completed run")
	}
}

func TestRunIsIdempotentAcrossInvocations(t *testing.T) {
	start := weather.NewDate(2024, time.June, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, dailyBody(start, 10, nil))
	}))
	defer srv.Close()

	loc := weather.Location{Name: "iowa_center", Lat: 41.6005, Lon: -93.6091}
	mem := store.NewMemoryStore()
	cfg := testConfig(srv.URL, srv.URL, t.TempDir(), loc)
	p := newPipeline(t, cfg, mem)

	if s := p.Run(context.Background(), Options{Historical: true}); s.Failed() {
		t.Fatalf("first run failed: %+v", s.Statuses)
	}

	// Second run at a later instant produces a new artifact with the same
	// rows; every one must be skipped.
	p.Now = func() time.Time { return time.Date(2024, 6, 12, 10, 0, 0, 0, time.UTC) }
	second := p.Run(context.Background(), Options{Historical: true})
	if second.Failed() {
		t.Fatalf("second run failed: %+v", second.Statuses)
	}

	if st := second.Statuses[0]; st.Load.Inserted != 0 || st.Load.Skipped != 10 {
		t.Errorf("replayed run should skip all rows, got %+v", st.Load)
	}
	if mem.RowCount() != 10 {
		t.Errorf("duplicate rows after re-run: %d", mem.RowCount())
	}
}

func TestRunForecastWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start_date") != "2024-06-11" || r.URL.Query().Get("end_date") != "2024-06-18" {
			t.Errorf("unexpected forecast window %s..%s",
				r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date"))
		}
		fmt.Fprint(w, dailyBody(weather.NewDate(2024, time.June, 11), 8, nil))
	}))
	defer srv.Close()

	loc := weather.Location{Name: "iowa_center", Lat: 41.6005, Lon: -93.6091}
	mem := store.NewMemoryStore()
	p := newPipeline(t, testConfig(srv.URL, srv.URL, t.TempDir(), loc), mem)

	summary := p.Run(context.Background(), Options{Forecast: true})
	if summary.Failed() {
		t.Fatalf("run failed: %+v", summary.Statuses)
	}
	if mem.RowCount() != 8 {
		t.Errorf("expected 8 forecast rows, got %d", mem.RowCount())
	}
}

func TestRunIsolatesLocationFailures(t *testing.T) {
	start := weather.NewDate(2024, time.June, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("latitude") == "40.6331" {
			http.Error(w, "unknown location", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, dailyBody(start, 10, nil))
	}))
	defer srv.Close()

	iowa := weather.Location{Name: "iowa_center", Lat: 41.6005, Lon: -93.6091}
	illinois := weather.Location{Name: "illinois_center", Lat: 40.6331, Lon: -89.3985}
	mem := store.NewMemoryStore()
	p := newPipeline(t, testConfig(srv.URL, srv.URL, t.TempDir(), iowa, illinois), mem)

	summary := p.Run(context.Background(), Options{Historical: true})
	if !summary.Failed() {
		t.Fatal("run with a failing location should report failure")
	}
	if len(summary.Statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(summary.Statuses))
	}

	// Statuses are sorted by location name: illinois_center first.
	if !summary.Statuses[0].Failed() {
		t.Error("illinois_center should have failed")
	}
	if summary.Statuses[1].Failed() {
		t.Errorf("iowa_center should have succeeded: %s", summary.Statuses[1].Error)
	}
	if mem.RowCount() != 10 {
		t.Errorf("healthy location should still load, got %d rows", mem.RowCount())
	}
}
