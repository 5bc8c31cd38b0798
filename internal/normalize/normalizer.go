package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"

	"github.com/hashicorp/go-multierror"

	"github.com/agroclim/weather-pipeline/internal/fetch"
	"github.com/agroclim/weather-pipeline/internal/weather"
)

// DefaultSkipThreshold is the fraction of expected days that may be
// skipped before the whole batch is abandoned.
const DefaultSkipThreshold = 0.10

// SkipReport lists the days dropped from an otherwise accepted batch.
type SkipReport struct {
	Expected int
	Skipped  []weather.Date
	Reasons  []string
}

// Normalizer converts raw API responses into ordered, validated
// per-day WeatherRecords.
type Normalizer struct {
	// SkipThreshold is the tolerated fraction of invalid days.
	SkipThreshold float64
}

// New returns a Normalizer with the given batch-abort threshold;
// thresholds outside (0, 1] fall back to the default.
func New(threshold float64) *Normalizer {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSkipThreshold
	}
	return &Normalizer{SkipThreshold: threshold}
}

// Normalize turns the parallel per-day arrays of raw into one
// WeatherRecord per valid date. Invalid days are skipped and reported;
// when more than SkipThreshold of the expected days are invalid the whole
// batch fails with a ValidationError and no records are returned.
func (n *Normalizer) Normalize(raw *fetch.RawResponse, loc weather.Location, rt weather.RecordType, expected weather.DateRange) ([]weather.WeatherRecord, *SkipReport, error) {
	if !rt.Valid() {
		return nil, nil, fmt.Errorf("unknown record type %q", rt)
	}

	report := &SkipReport{Expected: expected.Days()}
	seen := make(map[weather.Date]bool)
	var records []weather.WeatherRecord
	var dayErrs *multierror.Error

	skip := func(date weather.Date, reason string) {
		report.Skipped = append(report.Skipped, date)
		report.Reasons = append(report.Reasons, reason)
		dayErrs = multierror.Append(dayErrs, fmt.Errorf("%s: %s", date, reason))
		log.Printf("normalize: skipping %s/%s %s: %s", loc.Key(), rt, date, reason)
	}

	for i, rawDate := range raw.Daily.Time {
		date, err := weather.ParseDate(rawDate)
		if err != nil {
			skip(weather.Date{}, fmt.Sprintf("unparseable date %q", rawDate))
			continue
		}
		if !expected.Contains(date) {
			skip(date, fmt.Sprintf("date outside requested range %s", expected))
			continue
		}
		if seen[date] {
			skip(date, "duplicate date in response")
			continue
		}

		m, reason := measurementsAt(&raw.Daily, i)
		if reason != "" {
			skip(date, reason)
			continue
		}

		// Swap-detection guard: report, never silently correct.
		if m.TemperatureMin != nil && m.TemperatureMax != nil && *m.TemperatureMin > *m.TemperatureMax {
			skip(date, fmt.Sprintf("temperature_2m_min %.2f exceeds temperature_2m_max %.2f",
				*m.TemperatureMin, *m.TemperatureMax))
			continue
		}

		seen[date] = true
		records = append(records, weather.WeatherRecord{
			LocationName: loc.Name,
			Date:         date,
			Type:         rt,
			Measurements: m,
		})
	}

	if report.Expected > 0 && float64(len(report.Skipped)) > n.SkipThreshold*float64(report.Expected) {
		return nil, nil, &weather.ValidationError{
			Location: loc.Name,
			Type:     rt,
			Expected: report.Expected,
			Skipped:  report.Skipped,
			Err:      dayErrs.ErrorOrNil(),
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Date.Before(records[j].Date.Time)
	})
	return records, report, nil
}

// measurementsAt extracts the i-th value of each daily variable. A missing
// array or an index past its end counts as null; a non-numeric,
// non-null token invalidates the day.
func measurementsAt(daily *fetch.RawDaily, i int) (weather.Measurements, string) {
	var m weather.Measurements
	fields := map[string]**float64{
		"weather_code":                  &m.WeatherCode,
		"temperature_2m_max":            &m.TemperatureMax,
		"temperature_2m_min":            &m.TemperatureMin,
		"daylight_duration":             &m.DaylightDuration,
		"precipitation_sum":             &m.PrecipitationSum,
		"shortwave_radiation_sum":       &m.ShortwaveRadiationSum,
		"et0_fao_evapotranspiration":    &m.ET0Evapotranspiration,
		"soil_moisture_0_to_100cm_mean": &m.SoilMoistureMean,
		"vapour_pressure_deficit_max":   &m.VapourPressureDeficitMax,
	}

	for _, name := range weather.DailyVariables {
		col := daily.Column(name)
		if i >= len(col) {
			continue
		}
		v, err := parseNumericOrNull(col[i])
		if err != nil {
			return weather.Measurements{}, fmt.Sprintf("%s: %v", name, err)
		}
		*fields[name] = v
	}
	return m, ""
}

// parseNumericOrNull accepts a JSON number or an explicit null; anything
// else (strings, placeholders, objects) is invalid.
func parseNumericOrNull(raw json.RawMessage) (*float64, error) {
	token := bytes.TrimSpace(raw)
	if len(token) == 0 || bytes.Equal(token, []byte("null")) {
		return nil, nil
	}
	v, err := strconv.ParseFloat(string(token), 64)
	if err != nil {
		return nil, fmt.Errorf("non-numeric value %s", token)
	}
	return &v, nil
}
