// Package staging is the durability boundary between acquisition and load.
// Each fetch produces one append-only JSON-lines artifact that can be
// inspected by hand and replayed into the store without re-fetching.
package staging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agroclim/weather-pipeline/internal/weather"
)

const asOfLayout = "20060102T150405Z"

// ArtifactMeta identifies one staged artifact, parsed from its file name.
type ArtifactMeta struct {
	ID           string
	LocationName string
	Type         weather.RecordType
	AsOf         time.Time
}

// Writer serializes normalized records into the staging directory.
type Writer struct {
	Dir string
}

// NewWriter returns a Writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Writer{Dir: dir}, nil
}

// Write stages the record sequence as a new artifact keyed by
// (location, type, asOf). A prior artifact under the same key is never
// overwritten; colliding keys are an error. Returns the artifact ID.
func (w *Writer) Write(records []weather.WeatherRecord, loc weather.Location, rt weather.RecordType, asOf time.Time) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("refusing to stage empty record set for %s/%s", loc.Key(), rt)
	}

	id := fmt.Sprintf("%s_%s_%s.json", rt, loc.Name, asOf.UTC().Format(asOfLayout))
	path := filepath.Join(w.Dir, id)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("artifact %s already exists", id)
		}
		return "", fmt.Errorf("create artifact: %w", err)
	}

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			f.Close()
			_ = os.Remove(path)
			return "", fmt.Errorf("encode record: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("flush artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return id, nil
}

// Reader loads staged artifacts back for the Load Orchestrator.
type Reader struct {
	Dir string
}

// NewReader returns a Reader over dir.
func NewReader(dir string) *Reader {
	return &Reader{Dir: dir}
}

// Read returns the records of one artifact together with its metadata.
func (r *Reader) Read(id string) ([]weather.WeatherRecord, ArtifactMeta, error) {
	meta, err := parseArtifactID(id)
	if err != nil {
		return nil, ArtifactMeta{}, err
	}

	f, err := os.Open(filepath.Join(r.Dir, id))
	if err != nil {
		return nil, ArtifactMeta{}, fmt.Errorf("open artifact %s: %w", id, err)
	}
	defer f.Close()

	var records []weather.WeatherRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec weather.WeatherRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, ArtifactMeta{}, fmt.Errorf("artifact %s line %d: %w", id, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, ArtifactMeta{}, fmt.Errorf("read artifact %s: %w", id, err)
	}
	return records, meta, nil
}

// List enumerates all staged artifacts, oldest first.
func (r *Reader) List() ([]ArtifactMeta, error) {
	entries, err := os.ReadDir(r.Dir)
	if err != nil {
		return nil, fmt.Errorf("list staging dir: %w", err)
	}

	var metas []ArtifactMeta
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		meta, err := parseArtifactID(e.Name())
		if err != nil {
			// Foreign files in the staging dir are ignored, not fatal.
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].AsOf.Before(metas[j].AsOf) })
	return metas, nil
}

// parseArtifactID recovers (type, location, asOf) from the file name
// {type}_{location}_{asOf}.json. Location names may themselves contain
// underscores.
func parseArtifactID(id string) (ArtifactMeta, error) {
	base := strings.TrimSuffix(id, ".json")
	if base == id {
		return ArtifactMeta{}, fmt.Errorf("invalid artifact id %q", id)
	}
	parts := strings.Split(base, "_")
	if len(parts) < 3 {
		return ArtifactMeta{}, fmt.Errorf("invalid artifact id %q", id)
	}

	rt := weather.RecordType(parts[0])
	if !rt.Valid() {
		return ArtifactMeta{}, fmt.Errorf("invalid artifact id %q: unknown record type %q", id, parts[0])
	}

	asOf, err := time.Parse(asOfLayout, parts[len(parts)-1])
	if err != nil {
		return ArtifactMeta{}, fmt.Errorf("invalid artifact id %q: %w", id, err)
	}

	return ArtifactMeta{
		ID:           id,
		LocationName: strings.Join(parts[1:len(parts)-1], "_"),
		Type:         rt,
		AsOf:         asOf,
	}, nil
}
