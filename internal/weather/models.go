package weather

import (
	"fmt"
	"time"
)

// RecordType distinguishes immutable past observations from mutable
// forward-looking predictions. It is a closed enum; the load path branches
// on it.
type RecordType string

const (
	RecordHistorical RecordType = "historical"
	RecordForecast   RecordType = "forecast"
)

// Valid reports whether t is one of the known record types.
func (t RecordType) Valid() bool {
	return t == RecordHistorical || t == RecordForecast
}

// Location represents a named geographic point we collect weather for.
// The name is the unique identity; coordinates are fixed at configuration
// time and never change.
type Location struct {
	Name string  `json:"name" validate:"required"`
	Lat  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon  float64 `json:"lon" validate:"gte=-180,lte=180"`
}

// Key returns the canonical string key for this location.
func (l Location) Key() string {
	return l.Name
}

// Date is a civil calendar date (UTC midnight). It marshals as "YYYY-MM-DD",
// the form the API and the staged artifacts use.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate builds a Date from year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a "YYYY-MM-DD" string into a Date. Impossible calendar
// dates (e.g. Feb 30) are rejected.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// AddDays returns the date n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return Date{d.AddDate(0, 0, n)}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid date token %s", b)
	}
	parsed, err := ParseDate(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DateRange is a closed interval of calendar dates.
type DateRange struct {
	Start Date
	End   Date
}

// Days returns the number of dates in the closed interval.
func (r DateRange) Days() int {
	if r.End.Before(r.Start.Time) {
		return 0
	}
	return int(r.End.Sub(r.Start.Time)/(24*time.Hour)) + 1
}

// Contains reports whether d falls inside the interval.
func (r DateRange) Contains(d Date) bool {
	return !d.Before(r.Start.Time) && !d.After(r.End.Time)
}

func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}

// Measurements holds the nine daily variables requested from the API.
// Every field is nullable: the source may omit any measurement for a day
// (soil moisture in particular is absent from forecast responses).
type Measurements struct {
	WeatherCode              *float64 `json:"weather_code"`
	TemperatureMax           *float64 `json:"temperature_2m_max"`
	TemperatureMin           *float64 `json:"temperature_2m_min"`
	DaylightDuration         *float64 `json:"daylight_duration"`
	PrecipitationSum         *float64 `json:"precipitation_sum"`
	ShortwaveRadiationSum    *float64 `json:"shortwave_radiation_sum"`
	ET0Evapotranspiration    *float64 `json:"et0_fao_evapotranspiration"`
	SoilMoistureMean         *float64 `json:"soil_moisture_0_to_100cm_mean"`
	VapourPressureDeficitMax *float64 `json:"vapour_pressure_deficit_max"`
}

// DailyVariables lists the measurement names in the order they are
// requested from the API and laid out in its parallel response arrays.
var DailyVariables = []string{
	"weather_code",
	"temperature_2m_max",
	"temperature_2m_min",
	"daylight_duration",
	"precipitation_sum",
	"shortwave_radiation_sum",
	"et0_fao_evapotranspiration",
	"soil_moisture_0_to_100cm_mean",
	"vapour_pressure_deficit_max",
}

// WeatherRecord is one normalized observation or forecast for a
// (location, date, record type) triple.
type WeatherRecord struct {
	LocationName string     `json:"location"`
	Date         Date       `json:"date"`
	Type         RecordType `json:"data_type"`
	Measurements
}
