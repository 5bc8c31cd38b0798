// Package pipeline drives the per-location fetch, normalize, stage and
// load path and collects a per-run summary.
package pipeline

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agroclim/weather-pipeline/internal/config"
	"github.com/agroclim/weather-pipeline/internal/fetch"
	"github.com/agroclim/weather-pipeline/internal/load"
	"github.com/agroclim/weather-pipeline/internal/normalize"
	"github.com/agroclim/weather-pipeline/internal/staging"
	"github.com/agroclim/weather-pipeline/internal/weather"
)

// Options selects which record types a run acquires.
type Options struct {
	Historical bool
	Forecast   bool
}

// LocationStatus is the outcome of one (location, record type) path.
type LocationStatus struct {
	Location    string             `json:"location"`
	Type        weather.RecordType `json:"data_type"`
	Artifact    string             `json:"artifact,omitempty"`
	Records     int                `json:"records"`
	SkippedDays int                `json:"skipped_days"`
	Load        load.LoadResult    `json:"load"`
	Error       string             `json:"error,omitempty"`

	err error
}

// Failed reports whether this path ended in an unrecovered error.
func (s LocationStatus) Failed() bool { return s.err != nil }

// RunSummary is the user-visible report of one pipeline run.
type RunSummary struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Statuses   []LocationStatus `json:"statuses"`
}

// Failed reports whether any location path failed.
func (s *RunSummary) Failed() bool {
	for _, st := range s.Statuses {
		if st.Failed() {
			return true
		}
	}
	return false
}

// Pipeline wires the four core components together.
type Pipeline struct {
	cfg        *config.AppConfig
	client     *fetch.Client
	normalizer *normalize.Normalizer
	writer     *staging.Writer
	loader     *load.Loader

	// Now anchors the historical and forecast windows; overridable in tests.
	Now func() time.Time

	mu   sync.Mutex
	last *RunSummary
}

// New builds a Pipeline from its components.
func New(cfg *config.AppConfig, client *fetch.Client, normalizer *normalize.Normalizer, writer *staging.Writer, loader *load.Loader) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		client:     client,
		normalizer: normalizer,
		writer:     writer,
		loader:     loader,
		Now:        time.Now,
	}
}

// Run executes one full pipeline run. Locations are independent and fan
// out concurrently; a failure in one location path never aborts siblings.
// The relational store is the only shared resource, serialized by the
// loader's per-artifact transactions.
func (p *Pipeline) Run(ctx context.Context, opts Options) *RunSummary {
	now := p.Now().UTC()
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: now,
	}

	var types []weather.RecordType
	if opts.Historical {
		types = append(types, weather.RecordHistorical)
	}
	if opts.Forecast {
		types = append(types, weather.RecordForecast)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, loc := range p.cfg.Locations {
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, rt := range types {
				status := p.runOne(ctx, loc, rt, now)
				mu.Lock()
				summary.Statuses = append(summary.Statuses, status)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(summary.Statuses, func(i, j int) bool {
		a, b := summary.Statuses[i], summary.Statuses[j]
		if a.Location != b.Location {
			return a.Location < b.Location
		}
		return a.Type < b.Type
	})
	summary.FinishedAt = time.Now().UTC()

	p.mu.Lock()
	p.last = summary
	p.mu.Unlock()

	p.logSummary(summary)
	return summary
}

// runOne runs the full acquisition and load path for one
// (location, record type) pair.
func (p *Pipeline) runOne(ctx context.Context, loc weather.Location, rt weather.RecordType, asOf time.Time) LocationStatus {
	status := LocationStatus{Location: loc.Name, Type: rt}

	fail := func(err error) LocationStatus {
		status.err = err
		status.Error = err.Error()
		log.Printf("pipeline: %s/%s failed: %v", loc.Key(), rt, err)
		return status
	}

	var dateRange weather.DateRange
	if rt == weather.RecordHistorical {
		dateRange = p.cfg.HistoricalRange(asOf)
	} else {
		dateRange = p.cfg.ForecastRange(asOf)
	}

	raw, err := p.client.Fetch(ctx, fetch.Request{Location: loc, Range: dateRange, Type: rt})
	if err != nil {
		return fail(err)
	}

	records, report, err := p.normalizer.Normalize(raw, loc, rt, dateRange)
	if err != nil {
		return fail(err)
	}
	status.Records = len(records)
	status.SkippedDays = len(report.Skipped)

	artifact, err := p.writer.Write(records, loc, rt, asOf)
	if err != nil {
		return fail(err)
	}
	status.Artifact = artifact

	result, err := p.loader.Load(ctx, artifact)
	if err != nil {
		return fail(err)
	}
	status.Load = result
	return status
}

// LastSummary returns the most recent run summary, or nil before the
// first run.
func (p *Pipeline) LastSummary() *RunSummary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Pipeline) logSummary(s *RunSummary) {
	for _, st := range s.Statuses {
		if st.Failed() {
			log.Printf("run %s: %s/%s FAILED: %s", s.RunID, st.Location, st.Type, st.Error)
			continue
		}
		log.Printf("run %s: %s/%s ok: %d records (%d days skipped), %d inserted, %d updated, %d skipped",
			s.RunID, st.Location, st.Type, st.Records, st.SkippedDays,
			st.Load.Inserted, st.Load.Updated, st.Load.Skipped)
	}
}
