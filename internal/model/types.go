package model

import "time"

// Status is the operational status of a pantry as extracted from its
// website. The values must match the text values stored in the
// database (pantries.status).
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusClosed   Status = "CLOSED"
	StatusWaitlist Status = "WAITLIST"
	StatusUnknown  Status = "UNKNOWN"
)

// ParseStatus coerces an arbitrary string into a Status, falling back
// to UNKNOWN for anything outside the enum.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusOpen, StatusClosed, StatusWaitlist, StatusUnknown:
		return Status(s)
	default:
		return StatusUnknown
	}
}

// GeoPoint is a (longitude, latitude) pair. The coordinate order
// matches GeoJSON and the database point columns: lng first.
type GeoPoint struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Pantry is the canonical enriched record stored in the pantries table.
type Pantry struct {
	ID               string     `json:"id"`
	PlaceID          string     `json:"placeId,omitempty"`
	Name             string     `json:"name"`
	Address          string     `json:"address,omitempty"`
	City             string     `json:"city,omitempty"`
	State            string     `json:"state,omitempty"`
	Point            GeoPoint   `json:"point"`
	Status           Status     `json:"status"`
	HoursNotes       string     `json:"hoursNotes,omitempty"`
	HoursToday       string     `json:"hoursToday,omitempty"`
	EligibilityRules []string   `json:"eligibilityRules"`
	IsIDRequired     bool       `json:"isIdRequired"`
	ResidencyReq     *string    `json:"residencyReq,omitempty"`
	SpecialNotes     *string    `json:"specialNotes,omitempty"`
	Confidence       int        `json:"confidence"`
	SourceURL        *string    `json:"sourceUrl,omitempty"`
	ScrapeMethod     string     `json:"scrapeMethod,omitempty"`
	ScrapedAt        *time.Time `json:"scrapedAt,omitempty"`
	LastUpdated      time.Time  `json:"lastUpdated"`

	// DistanceMeters is only populated by nearby queries.
	DistanceMeters *float64 `json:"distanceMeters,omitempty"`
}

// PantryUpdate holds the fields produced by LLM extraction from a
// scraped pantry page, before validation and merging with places data.
type PantryUpdate struct {
	Status           Status   `json:"status"`
	HoursNotes       string   `json:"hours_notes"`
	HoursToday       string   `json:"hours_today"`
	EligibilityRules []string `json:"eligibility_rules"`
	IsIDRequired     *bool    `json:"is_id_required"`
	ResidencyReq     *string  `json:"residency_req"`
	SpecialNotes     *string  `json:"special_notes"`
	Confidence       *int     `json:"confidence"`
}

// Candidate is a pre-enrichment place returned by the places provider.
// Search results are unique by PlaceID.
type Candidate struct {
	PlaceID string  `json:"placeId"`
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Website string  `json:"website,omitempty"`
}

// CitySummary aggregates pantry counts per (city, state).
type CitySummary struct {
	City   string   `json:"city"`
	State  string   `json:"state"`
	Count  int      `json:"count"`
	Center GeoPoint `json:"center"`
}
