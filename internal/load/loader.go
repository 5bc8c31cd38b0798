// Package load consumes staged artifacts and upserts them into the
// relational store, one atomic transaction per artifact.
package load

import (
	"context"
	"fmt"
	"log"

	"github.com/hashicorp/go-multierror"

	"github.com/agroclim/weather-pipeline/internal/staging"
	"github.com/agroclim/weather-pipeline/internal/store"
	"github.com/agroclim/weather-pipeline/internal/weather"
)

// LoadResult summarizes what loading one artifact did.
type LoadResult struct {
	Artifact  string         `json:"artifact"`
	Inserted  int            `json:"inserted"`
	Updated   int            `json:"updated"`
	Skipped   int            `json:"skipped"`
	Conflicts []weather.Date `json:"conflicts,omitempty"`
}

// Loader loads staged artifacts into the store.
type Loader struct {
	store  store.Store
	reader *staging.Reader
}

// NewLoader builds a Loader over the given store and staging reader.
func NewLoader(st store.Store, reader *staging.Reader) *Loader {
	return &Loader{store: st, reader: reader}
}

// Load loads one artifact all-or-nothing. The location row is created if
// absent; each record is dispatched on its record type: historical rows
// are insert-or-skip (a differing skip is recorded as a conflict warning),
// forecast rows are upserted. Any unexpected error aborts the transaction
// and surfaces as a LoadError, leaving the store in its pre-load state.
func (l *Loader) Load(ctx context.Context, artifactID string) (LoadResult, error) {
	records, meta, err := l.reader.Read(artifactID)
	if err != nil {
		return LoadResult{}, &weather.LoadError{Artifact: artifactID, Err: err}
	}
	if len(records) == 0 {
		return LoadResult{}, &weather.LoadError{Artifact: artifactID, Err: fmt.Errorf("artifact is empty")}
	}

	result := LoadResult{Artifact: artifactID}

	err = l.store.RunInTransaction(ctx, func(ctx context.Context, b store.Batch) error {
		locID, err := b.GetOrCreateLocation(ctx, meta.LocationName)
		if err != nil {
			return err
		}

		for _, rec := range records {
			if rec.LocationName != meta.LocationName || rec.Type != meta.Type {
				return fmt.Errorf("record %s/%s does not belong to artifact %s",
					rec.LocationName, rec.Date, artifactID)
			}

			var rr store.RowResult
			switch rec.Type {
			case weather.RecordHistorical:
				rr, err = b.InsertHistorical(ctx, locID, rec)
			case weather.RecordForecast:
				rr, err = b.UpsertForecast(ctx, locID, rec)
			default:
				return fmt.Errorf("unknown record type %q", rec.Type)
			}
			if err != nil {
				return err
			}

			switch rr {
			case store.RowInserted:
				result.Inserted++
			case store.RowUpdated:
				result.Updated++
			case store.RowSkipped:
				result.Skipped++
			case store.RowConflict:
				// Source corrected past data; keep the stored row and warn.
				result.Skipped++
				result.Conflicts = append(result.Conflicts, rec.Date)
				log.Printf("WARN: load %s: historical row for %s differs from stored values; keeping stored row",
					artifactID, rec.Date)
			}
		}
		return nil
	})
	if err != nil {
		return LoadResult{}, &weather.LoadError{Artifact: artifactID, Err: err}
	}

	log.Printf("load %s: %d inserted, %d updated, %d skipped",
		artifactID, result.Inserted, result.Updated, result.Skipped)
	return result, nil
}

// LoadAll replays every staged artifact, oldest first. A failing artifact
// does not stop the rest and does not roll back previously loaded ones;
// all failures are aggregated into the returned error.
func (l *Loader) LoadAll(ctx context.Context) ([]LoadResult, error) {
	metas, err := l.reader.List()
	if err != nil {
		return nil, err
	}

	var results []LoadResult
	var errs *multierror.Error
	for _, meta := range metas {
		res, err := l.Load(ctx, meta.ID)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		results = append(results, res)
	}
	return results, errs.ErrorOrNil()
}
