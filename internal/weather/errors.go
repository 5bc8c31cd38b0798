package weather

import (
	"errors"
	"fmt"
)

// FetchReason classifies terminal fetch failures.
type FetchReason string

const (
	// FetchExhausted means every retry of a transient failure was used up.
	FetchExhausted FetchReason = "exhausted"
	// FetchTimeout means the request context expired before a response.
	FetchTimeout FetchReason = "timeout"
	// FetchHTTP4xx means the API rejected the request permanently
	// (any 4xx other than 429).
	FetchHTTP4xx FetchReason = "http_4xx"
)

// FetchError is a terminal failure talking to the weather API.
type FetchError struct {
	Reason FetchReason
	Status int // last HTTP status, 0 if none was received
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch failed (%s, status %d): %v", e.Reason, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch failed (%s): %v", e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError aborts a whole normalization batch when too many days
// are invalid. Err aggregates the individual per-day reasons.
type ValidationError struct {
	Location string
	Type     RecordType
	Expected int
	Skipped  []Date
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s/%s: %d of %d expected days invalid: %v",
		e.Location, e.Type, len(e.Skipped), e.Expected, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// LoadError means the load of one staged artifact aborted; the store is
// left in its pre-load state.
type LoadError struct {
	Artifact string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load of artifact %s aborted: %v", e.Artifact, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsFetchError reports whether err is (or wraps) a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
