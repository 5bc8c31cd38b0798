package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agroclim/weather-pipeline/internal/weather"
)

// RowKey is the natural key of one weather row.
type RowKey struct {
	LocationID int64
	Date       string
	Type       weather.RecordType
}

// MemoryRow is one stored weather row.
type MemoryRow struct {
	Measurements weather.Measurements
	CreatedAt    time.Time
}

// MemoryStore is a concurrency-safe in-memory implementation of Store,
// used by dry runs and tests. Its transactions are real: the state is
// snapshotted at begin and restored when the callback fails.
type MemoryStore struct {
	mu sync.Mutex

	locations map[string]int64
	nextLocID int64
	rows      map[RowKey]MemoryRow
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: make(map[string]int64),
		nextLocID: 1,
		rows:      make(map[RowKey]MemoryRow),
	}
}

// RunInTransaction runs fn against a snapshot-protected view; on error
// every change fn made is rolled back.
func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, b Batch) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locSnap := make(map[string]int64, len(s.locations))
	for k, v := range s.locations {
		locSnap[k] = v
	}
	rowSnap := make(map[RowKey]MemoryRow, len(s.rows))
	for k, v := range s.rows {
		rowSnap[k] = v
	}
	idSnap := s.nextLocID

	if err := fn(ctx, &memBatch{s: s}); err != nil {
		s.locations = locSnap
		s.rows = rowSnap
		s.nextLocID = idSnap
		return err
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}

// RowCount returns the number of stored weather rows.
func (s *MemoryStore) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// LocationCount returns the number of location rows.
func (s *MemoryStore) LocationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locations)
}

// LocationID resolves a location name without creating it.
func (s *MemoryStore) LocationID(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.locations[name]
	return id, ok
}

// Row returns the stored measurements for (location name, date, type).
func (s *MemoryStore) Row(name string, date weather.Date, rt weather.RecordType) (weather.Measurements, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.locations[name]
	if !ok {
		return weather.Measurements{}, false
	}
	row, ok := s.rows[RowKey{LocationID: id, Date: date.String(), Type: rt}]
	return row.Measurements, ok
}

type memBatch struct {
	s *MemoryStore
}

func (b *memBatch) GetOrCreateLocation(_ context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("empty location name")
	}
	if id, ok := b.s.locations[name]; ok {
		return id, nil
	}
	id := b.s.nextLocID
	b.s.nextLocID++
	b.s.locations[name] = id
	return id, nil
}

func (b *memBatch) InsertHistorical(_ context.Context, locationID int64, rec weather.WeatherRecord) (RowResult, error) {
	key := RowKey{LocationID: locationID, Date: rec.Date.String(), Type: weather.RecordHistorical}
	if existing, ok := b.s.rows[key]; ok {
		if !measurementsEqual(existing.Measurements, rec.Measurements) {
			return RowConflict, nil
		}
		return RowSkipped, nil
	}
	b.s.rows[key] = MemoryRow{Measurements: rec.Measurements, CreatedAt: time.Now().UTC()}
	return RowInserted, nil
}

func (b *memBatch) UpsertForecast(_ context.Context, locationID int64, rec weather.WeatherRecord) (RowResult, error) {
	key := RowKey{LocationID: locationID, Date: rec.Date.String(), Type: weather.RecordForecast}
	_, existed := b.s.rows[key]
	b.s.rows[key] = MemoryRow{Measurements: rec.Measurements, CreatedAt: time.Now().UTC()}
	if existed {
		return RowUpdated, nil
	}
	return RowInserted, nil
}
