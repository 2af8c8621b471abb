package discovery

import (
	"time"

	"equitable/internal/model"
)

// EventType enumerates the typed events a discovery job emits.
type EventType string

const (
	EventJobStarted       EventType = "job_started"
	EventPantryDiscovered EventType = "pantry_discovered"
	EventPantryFailed     EventType = "pantry_failed"
	EventPantrySkipped    EventType = "pantry_skipped"
	EventProgress         EventType = "progress"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
	EventHeartbeat        EventType = "heartbeat"
)

// Event is a single entry on a job's stream.
type Event struct {
	Type  EventType `json:"type"`
	JobID string    `json:"job_id"`
	Time  time.Time `json:"time"`
	Data  any       `json:"data,omitempty"`
}

// JobStartedData announces the job and, once the search has returned,
// how many candidates were found and how many pantries are already
// stored nearby.
type JobStartedData struct {
	URLsFound     int  `json:"urls_found"`
	ExistingCount int  `json:"existing_count"`
	FromCache     bool `json:"from_cache,omitempty"`
}

// PantryDiscoveredData carries a stored pantry. Outcome is "enriched"
// or "places_only".
type PantryDiscoveredData struct {
	Pantry  model.Pantry `json:"pantry"`
	Outcome string       `json:"outcome"`
}

// PantryFailedData reports a candidate whose processing failed hard.
type PantryFailedData struct {
	PlaceID string `json:"place_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Website string `json:"website,omitempty"`
	Reason  string `json:"reason"`
}

// PantrySkippedData reports a candidate that was not processed.
type PantrySkippedData struct {
	PlaceID string `json:"place_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Reason  string `json:"reason"`
}

// ProgressData is the coalesced running tally.
type ProgressData struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// CompleteData is the final tally. Found+Failed+Skipped always equals
// the number of candidates announced in job_started.
type CompleteData struct {
	Found   int `json:"found"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ErrorData reports a job-level failure.
type ErrorData struct {
	Message string `json:"message"`
}
