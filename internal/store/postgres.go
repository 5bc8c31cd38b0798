package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agroclim/weather-pipeline/internal/weather"
)

// PostgresStore implements Store on a pgx connection pool. The target
// schema pre-exists; this code relies on its unique constraints
// (locations.location_name, weather_data(location_id, date, data_type)).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool using the given DSN.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CreateSchema creates the target tables if they do not exist.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS locations (
		id              BIGSERIAL PRIMARY KEY,
		location_name   TEXT NOT NULL UNIQUE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS weather_data (
		id                              BIGSERIAL PRIMARY KEY,
		location_id                     BIGINT NOT NULL REFERENCES locations(id),
		date                            DATE NOT NULL,
		data_type                       TEXT NOT NULL,
		weather_code                    DOUBLE PRECISION,
		temperature_2m_max              DOUBLE PRECISION,
		temperature_2m_min              DOUBLE PRECISION,
		daylight_duration               DOUBLE PRECISION,
		shortwave_radiation_sum         DOUBLE PRECISION,
		precipitation_sum               DOUBLE PRECISION,
		et0_fao_evapotranspiration      DOUBLE PRECISION,
		soil_moisture_0_to_100cm_mean   DOUBLE PRECISION,
		vapour_pressure_deficit_max     DOUBLE PRECISION,
		created_at                      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (location_id, date, data_type)
	);

	CREATE INDEX IF NOT EXISTS idx_weather_data_date ON weather_data(date);
	CREATE INDEX IF NOT EXISTS idx_weather_data_type ON weather_data(data_type);
	`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Pool exposes the underlying pool for read-only consumers (the reporter).
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// RunInTransaction runs fn inside one transaction; fn errors roll back.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, b Batch) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgBatch{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type pgBatch struct {
	tx pgx.Tx
}

func (b *pgBatch) GetOrCreateLocation(ctx context.Context, name string) (int64, error) {
	var id int64
	err := b.tx.QueryRow(ctx, `
		INSERT INTO locations (location_name, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (location_name) DO NOTHING
		RETURNING id
	`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("create location %q: %w", name, err)
	}

	// Row already existed; DO NOTHING returns nothing.
	err = b.tx.QueryRow(ctx, `SELECT id FROM locations WHERE location_name = $1`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve location %q: %w", name, err)
	}
	return id, nil
}

const measurementColumns = `weather_code, temperature_2m_max, temperature_2m_min,
		daylight_duration, shortwave_radiation_sum, precipitation_sum,
		et0_fao_evapotranspiration, soil_moisture_0_to_100cm_mean,
		vapour_pressure_deficit_max`

func (b *pgBatch) InsertHistorical(ctx context.Context, locationID int64, rec weather.WeatherRecord) (RowResult, error) {
	tag, err := b.tx.Exec(ctx, `
		INSERT INTO weather_data (location_id, date, data_type, `+measurementColumns+`, created_at)
		VALUES ($1, $2, 'historical', $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (location_id, date, data_type) DO NOTHING
	`, locationID, rec.Date.Time,
		rec.WeatherCode, rec.TemperatureMax, rec.TemperatureMin,
		rec.DaylightDuration, rec.ShortwaveRadiationSum, rec.PrecipitationSum,
		rec.ET0Evapotranspiration, rec.SoilMoistureMean, rec.VapourPressureDeficitMax)
	if err != nil {
		return 0, fmt.Errorf("insert historical row %s: %w", rec.Date, err)
	}
	if tag.RowsAffected() > 0 {
		return RowInserted, nil
	}

	// Skipped: compare against the stored row to flag conflicting re-fetches.
	var stored weather.Measurements
	err = b.tx.QueryRow(ctx, `
		SELECT `+measurementColumns+`
		FROM weather_data
		WHERE location_id = $1 AND date = $2 AND data_type = 'historical'
	`, locationID, rec.Date.Time).Scan(
		&stored.WeatherCode, &stored.TemperatureMax, &stored.TemperatureMin,
		&stored.DaylightDuration, &stored.ShortwaveRadiationSum, &stored.PrecipitationSum,
		&stored.ET0Evapotranspiration, &stored.SoilMoistureMean, &stored.VapourPressureDeficitMax)
	if err != nil {
		return 0, fmt.Errorf("read stored historical row %s: %w", rec.Date, err)
	}

	if !measurementsEqual(stored, rec.Measurements) {
		return RowConflict, nil
	}
	return RowSkipped, nil
}

func (b *pgBatch) UpsertForecast(ctx context.Context, locationID int64, rec weather.WeatherRecord) (RowResult, error) {
	tag, err := b.tx.Exec(ctx, `
		UPDATE weather_data SET
			weather_code = $3,
			temperature_2m_max = $4,
			temperature_2m_min = $5,
			daylight_duration = $6,
			shortwave_radiation_sum = $7,
			precipitation_sum = $8,
			et0_fao_evapotranspiration = $9,
			soil_moisture_0_to_100cm_mean = $10,
			vapour_pressure_deficit_max = $11
		WHERE location_id = $1 AND date = $2 AND data_type = 'forecast'
	`, locationID, rec.Date.Time,
		rec.WeatherCode, rec.TemperatureMax, rec.TemperatureMin,
		rec.DaylightDuration, rec.ShortwaveRadiationSum, rec.PrecipitationSum,
		rec.ET0Evapotranspiration, rec.SoilMoistureMean, rec.VapourPressureDeficitMax)
	if err != nil {
		return 0, fmt.Errorf("update forecast row %s: %w", rec.Date, err)
	}
	if tag.RowsAffected() > 0 {
		return RowUpdated, nil
	}

	// No prior row; the ON CONFLICT clause closes the race with a
	// concurrent load of the same key via the unique constraint.
	_, err = b.tx.Exec(ctx, `
		INSERT INTO weather_data (location_id, date, data_type, `+measurementColumns+`, created_at)
		VALUES ($1, $2, 'forecast', $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (location_id, date, data_type) DO UPDATE SET
			weather_code = EXCLUDED.weather_code,
			temperature_2m_max = EXCLUDED.temperature_2m_max,
			temperature_2m_min = EXCLUDED.temperature_2m_min,
			daylight_duration = EXCLUDED.daylight_duration,
			shortwave_radiation_sum = EXCLUDED.shortwave_radiation_sum,
			precipitation_sum = EXCLUDED.precipitation_sum,
			et0_fao_evapotranspiration = EXCLUDED.et0_fao_evapotranspiration,
			soil_moisture_0_to_100cm_mean = EXCLUDED.soil_moisture_0_to_100cm_mean,
			vapour_pressure_deficit_max = EXCLUDED.vapour_pressure_deficit_max
	`, locationID, rec.Date.Time,
		rec.WeatherCode, rec.TemperatureMax, rec.TemperatureMin,
		rec.DaylightDuration, rec.ShortwaveRadiationSum, rec.PrecipitationSum,
		rec.ET0Evapotranspiration, rec.SoilMoistureMean, rec.VapourPressureDeficitMax)
	if err != nil {
		return 0, fmt.Errorf("insert forecast row %s: %w", rec.Date, err)
	}
	return RowInserted, nil
}
