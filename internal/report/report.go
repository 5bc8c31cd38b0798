// Package report runs read-only analytical queries against the loaded
// warehouse and renders them for the CLI and the HTTP API.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TemperatureAverage is the per-location historical temperature summary.
type TemperatureAverage struct {
	Location string  `json:"location"`
	AvgMax   float64 `json:"avg_temperature_max"`
	AvgMin   float64 `json:"avg_temperature_min"`
	AvgMean  float64 `json:"avg_temperature_mean"`
}

// RainySummary counts precipitation days per location.
type RainySummary struct {
	Location      string  `json:"location"`
	TotalDays     int     `json:"total_days"`
	RainyDays     int     `json:"rainy_days"`
	RainyPercent  float64 `json:"rainy_percent"`
	AvgDailyPreco float64 `json:"avg_daily_precipitation"`
}

// TemperatureExtremes records the absolute extremes per location.
type TemperatureExtremes struct {
	Location string    `json:"location"`
	MaxTemp  float64   `json:"max_temperature"`
	MaxDate  time.Time `json:"max_temperature_date"`
	MinTemp  float64   `json:"min_temperature"`
	MinDate  time.Time `json:"min_temperature_date"`
}

// MonthlyPrecipitation is one (location, month) precipitation average.
type MonthlyPrecipitation struct {
	Location string  `json:"location"`
	Month    int     `json:"month"`
	AvgPreco float64 `json:"avg_precipitation"`
	Days     int     `json:"days"`
}

// TrendRow compares recent historical rows against the forecast window.
type TrendRow struct {
	Location string  `json:"location"`
	DataType string  `json:"data_type"`
	AvgMax   float64 `json:"avg_temperature_max"`
	AvgPreco float64 `json:"avg_precipitation"`
	Rows     int     `json:"rows"`
}

// Summary is the executive overview of the warehouse.
type Summary struct {
	TotalRows       int64      `json:"total_rows"`
	HistoricalStart *time.Time `json:"historical_start,omitempty"`
	HistoricalEnd   *time.Time `json:"historical_end,omitempty"`
	Locations       int        `json:"locations"`
	GeneratedAt     time.Time  `json:"generated_at"`
}

// Reporter runs the analytical queries over a read-only pool.
type Reporter struct {
	pool *pgxpool.Pool
}

// NewReporter builds a Reporter over an existing connection pool.
func NewReporter(pool *pgxpool.Pool) *Reporter {
	return &Reporter{pool: pool}
}

// TemperatureAverages averages historical max/min temperature per location.
func (r *Reporter) TemperatureAverages(ctx context.Context) ([]TemperatureAverage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			l.location_name,
			ROUND(AVG(w.temperature_2m_max)::numeric, 2),
			ROUND(AVG(w.temperature_2m_min)::numeric, 2),
			ROUND(((AVG(w.temperature_2m_max) + AVG(w.temperature_2m_min)) / 2)::numeric, 2)
		FROM weather_data w
		JOIN locations l ON w.location_id = l.id
		WHERE w.data_type = 'historical'
		GROUP BY l.location_name
		ORDER BY l.location_name
	`)
	if err != nil {
		return nil, fmt.Errorf("query temperature averages: %w", err)
	}
	defer rows.Close()

	var out []TemperatureAverage
	for rows.Next() {
		var t TemperatureAverage
		if err := rows.Scan(&t.Location, &t.AvgMax, &t.AvgMin, &t.AvgMean); err != nil {
			return nil, fmt.Errorf("scan temperature averages: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RainyDays counts days with measurable precipitation per location.
func (r *Reporter) RainyDays(ctx context.Context) ([]RainySummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			l.location_name,
			COUNT(*),
			SUM(CASE WHEN w.precipitation_sum > 0 THEN 1 ELSE 0 END),
			ROUND((SUM(CASE WHEN w.precipitation_sum > 0 THEN 1 ELSE 0 END)::numeric / COUNT(*) * 100), 2),
			ROUND(AVG(w.precipitation_sum)::numeric, 2)
		FROM weather_data w
		JOIN locations l ON w.location_id = l.id
		WHERE w.data_type = 'historical'
		GROUP BY l.location_name
		ORDER BY 3 DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rainy days: %w", err)
	}
	defer rows.Close()

	var out []RainySummary
	for rows.Next() {
		var s RainySummary
		if err := rows.Scan(&s.Location, &s.TotalDays, &s.RainyDays, &s.RainyPercent, &s.AvgDailyPreco); err != nil {
			return nil, fmt.Errorf("scan rainy days: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Extremes returns the absolute temperature extremes per location with
// the date each occurred on.
func (r *Reporter) Extremes(ctx context.Context) ([]TemperatureExtremes, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			l.location_name,
			MAX(w.temperature_2m_max),
			(SELECT w2.date FROM weather_data w2
			 WHERE w2.location_id = w.location_id
			   AND w2.temperature_2m_max = MAX(w.temperature_2m_max)
			 LIMIT 1),
			MIN(w.temperature_2m_min),
			(SELECT w3.date FROM weather_data w3
			 WHERE w3.location_id = w.location_id
			   AND w3.temperature_2m_min = MIN(w.temperature_2m_min)
			 LIMIT 1)
		FROM weather_data w
		JOIN locations l ON w.location_id = l.id
		WHERE w.data_type = 'historical'
		GROUP BY l.location_name, w.location_id
		ORDER BY l.location_name
	`)
	if err != nil {
		return nil, fmt.Errorf("query extremes: %w", err)
	}
	defer rows.Close()

	var out []TemperatureExtremes
	for rows.Next() {
		var e TemperatureExtremes
		if err := rows.Scan(&e.Location, &e.MaxTemp, &e.MaxDate, &e.MinTemp, &e.MinDate); err != nil {
			return nil, fmt.Errorf("scan extremes: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MonthlyPrecipitation averages daily precipitation per (location, month)
// for one calendar year.
func (r *Reporter) MonthlyPrecipitation(ctx context.Context, year int) ([]MonthlyPrecipitation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			l.location_name,
			EXTRACT(MONTH FROM w.date)::int,
			ROUND(AVG(w.precipitation_sum)::numeric, 2),
			COUNT(*)
		FROM weather_data w
		JOIN locations l ON w.location_id = l.id
		WHERE w.data_type = 'historical'
		  AND EXTRACT(YEAR FROM w.date) = $1
		GROUP BY l.location_name, EXTRACT(MONTH FROM w.date)
		ORDER BY l.location_name, 2
	`, year)
	if err != nil {
		return nil, fmt.Errorf("query monthly precipitation: %w", err)
	}
	defer rows.Close()

	var out []MonthlyPrecipitation
	for rows.Next() {
		var m MonthlyPrecipitation
		if err := rows.Scan(&m.Location, &m.Month, &m.AvgPreco, &m.Days); err != nil {
			return nil, fmt.Errorf("scan monthly precipitation: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Trend compares the last 30 historical days against the stored forecast.
func (r *Reporter) Trend(ctx context.Context) ([]TrendRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			l.location_name,
			w.data_type,
			ROUND(AVG(w.temperature_2m_max)::numeric, 2),
			ROUND(AVG(w.precipitation_sum)::numeric, 2),
			COUNT(*)
		FROM weather_data w
		JOIN locations l ON w.location_id = l.id
		WHERE (w.data_type = 'forecast')
		   OR (w.data_type = 'historical' AND w.date >=
			(SELECT MAX(date) - INTERVAL '30 days' FROM weather_data WHERE data_type = 'historical'))
		GROUP BY l.location_name, w.data_type
		ORDER BY l.location_name, w.data_type DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query trend: %w", err)
	}
	defer rows.Close()

	var out []TrendRow
	for rows.Next() {
		var t TrendRow
		if err := rows.Scan(&t.Location, &t.DataType, &t.AvgMax, &t.AvgPreco, &t.Rows); err != nil {
			return nil, fmt.Errorf("scan trend: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Overview returns the executive summary numbers.
func (r *Reporter) Overview(ctx context.Context) (Summary, error) {
	s := Summary{GeneratedAt: time.Now().UTC()}

	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM weather_data`).Scan(&s.TotalRows); err != nil {
		return Summary{}, fmt.Errorf("count rows: %w", err)
	}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM locations`).Scan(&s.Locations); err != nil {
		return Summary{}, fmt.Errorf("count locations: %w", err)
	}
	err := r.pool.QueryRow(ctx, `
		SELECT MIN(date), MAX(date)
		FROM weather_data
		WHERE data_type = 'historical'
	`).Scan(&s.HistoricalStart, &s.HistoricalEnd)
	if err != nil {
		return Summary{}, fmt.Errorf("historical range: %w", err)
	}
	return s, nil
}

// WriteText renders the full report as plain text, one section per query.
func (r *Reporter) WriteText(ctx context.Context, w io.Writer, year int) error {
	overview, err := r.Overview(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "=== Warehouse overview ===\n")
	fmt.Fprintf(w, "rows: %d  locations: %d\n", overview.TotalRows, overview.Locations)
	if overview.HistoricalStart != nil && overview.HistoricalEnd != nil {
		fmt.Fprintf(w, "historical range: %s .. %s\n",
			overview.HistoricalStart.Format("2006-01-02"), overview.HistoricalEnd.Format("2006-01-02"))
	}

	temps, err := r.TemperatureAverages(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n=== Temperature averages (historical) ===\n")
	for _, t := range temps {
		fmt.Fprintf(w, "%-20s max %6.2f  min %6.2f  mean %6.2f\n", t.Location, t.AvgMax, t.AvgMin, t.AvgMean)
	}

	rainy, err := r.RainyDays(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n=== Precipitation days ===\n")
	for _, s := range rainy {
		fmt.Fprintf(w, "%-20s %d/%d rainy (%5.2f%%), avg %5.2f mm/day\n",
			s.Location, s.RainyDays, s.TotalDays, s.RainyPercent, s.AvgDailyPreco)
	}

	extremes, err := r.Extremes(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n=== Temperature extremes ===\n")
	for _, e := range extremes {
		fmt.Fprintf(w, "%-20s max %6.2f on %s, min %6.2f on %s\n",
			e.Location, e.MaxTemp, e.MaxDate.Format("2006-01-02"), e.MinTemp, e.MinDate.Format("2006-01-02"))
	}

	monthly, err := r.MonthlyPrecipitation(ctx, year)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n=== Monthly precipitation, %d ===\n", year)
	for _, m := range monthly {
		fmt.Fprintf(w, "%-20s month %2d  avg %5.2f mm over %d days\n", m.Location, m.Month, m.AvgPreco, m.Days)
	}

	trend, err := r.Trend(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\n=== Last 30 days vs forecast ===\n")
	for _, t := range trend {
		fmt.Fprintf(w, "%-20s %-10s avg max %6.2f  avg precip %5.2f  rows %d\n",
			t.Location, t.DataType, t.AvgMax, t.AvgPreco, t.Rows)
	}
	return nil
}
