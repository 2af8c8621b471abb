package http

import (
	"equitable/internal/discovery"
	"equitable/internal/model"
)

// ErrorResponse is the error envelope for every endpoint.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// DiscoverRequest starts a discovery job around a point. Query is a
// free-form label for the job; Variants optionally overrides the
// configured places search queries.
type DiscoverRequest struct {
	Query    string   `json:"query"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	RadiusM  *float64 `json:"radius_m,omitempty"`
	Variants []string `json:"variants,omitempty"`
}

// DiscoverResponse acknowledges a started job and tells the caller
// where to stream its events and how many pantries the area already
// has.
type DiscoverResponse struct {
	Success          bool             `json:"success"`
	Job              discovery.Status `json:"job"`
	StreamURL        string           `json:"stream_url"`
	ExistingPantries int              `json:"existing_pantries"`
}

// JobStatusResponse is the snapshot of a job.
type JobStatusResponse struct {
	Success bool             `json:"success"`
	Job     discovery.Status `json:"job"`
}

// PantriesResponse lists pantries.
type PantriesResponse struct {
	Success  bool           `json:"success"`
	Count    int            `json:"count"`
	Pantries []model.Pantry `json:"pantries"`
}

// CitiesResponse lists cities that have at least one pantry.
type CitiesResponse struct {
	Success bool                `json:"success"`
	Cities  []model.CitySummary `json:"cities"`
}

// IngestRequest optionally overrides the website used to re-enrich a
// stored pantry.
type IngestRequest struct {
	Website string `json:"website,omitempty"`
}

// IngestResponse returns the refreshed pantry.
type IngestResponse struct {
	Success bool         `json:"success"`
	Outcome string       `json:"outcome"`
	Pantry  model.Pantry `json:"pantry"`
}
