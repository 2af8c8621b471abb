package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"equitable/internal/metrics"
	"equitable/internal/model"
	"equitable/internal/scraper"
	"equitable/internal/validate"
)

// Defaults stored for records that were never enriched from a website.
const (
	placesOnlyConfidence = 3
	placesOnlyHoursNotes = "Not listed on website"
	placesOnlyHoursToday = "Not listed"
	placesOnlyNote       = "Limited information - not yet enriched from website"
)

// ErrIncompleteCandidate rejects candidates that cannot form a usable
// record: a pantry without a name or coordinates is never stored.
var ErrIncompleteCandidate = errors.New("candidate has no name or location")

// OutcomeKind says how far a candidate got through the pipeline.
type OutcomeKind string

const (
	OutcomeEnriched   OutcomeKind = "enriched"
	OutcomePlacesOnly OutcomeKind = "places_only"
)

// Outcome is the stored result for one candidate. FailReason is set
// when scraping or extraction failed and the record fell back to
// places-only data.
type Outcome struct {
	Kind       OutcomeKind
	Pantry     model.Pantry
	FailReason string
}

// SiteScraper fetches a whole pantry site as markdown.
type SiteScraper interface {
	ScrapeSite(ctx context.Context, siteURL string) (*scraper.SiteResult, error)
}

// Extractor turns site markdown into a pantry update.
type Extractor interface {
	Extract(ctx context.Context, sourceURL, markdown string) (*model.PantryUpdate, error)
}

// Upserter persists pantries.
type Upserter interface {
	UpsertPantry(ctx context.Context, p model.Pantry) (model.Pantry, error)
}

// Pipeline runs scrape, extract, validate and store for one candidate.
// Scrape and extract failures degrade to a places-only record; only
// storage errors and cancellation fail the whole task.
type Pipeline struct {
	scraper   SiteScraper
	extractor Extractor
	store     Upserter
	now       func() time.Time
	log       *slog.Logger
}

func New(siteScraper SiteScraper, extractor Extractor, store Upserter, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		scraper:   siteScraper,
		extractor: extractor,
		store:     store,
		now:       time.Now,
		log:       log,
	}
}

// Process enriches and stores a single candidate.
func (p *Pipeline) Process(ctx context.Context, cand model.Candidate) (Outcome, error) {
	if strings.TrimSpace(cand.Name) == "" || (cand.Lat == 0 && cand.Lng == 0) {
		return Outcome{}, fmt.Errorf("%s: %w", cand.PlaceID, ErrIncompleteCandidate)
	}
	if cand.Website == "" || p.scraper == nil || p.extractor == nil {
		return p.storePlacesOnly(ctx, cand, "")
	}

	site, err := p.scraper.ScrapeSite(ctx, cand.Website)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		reason := "scrape_failed"
		if f, ok := scraper.AsFailure(err); ok {
			reason = string(f.Kind)
		}
		p.log.Info("scrape failed, storing places-only record",
			"place_id", cand.PlaceID, "website", cand.Website, "reason", reason)
		return p.storePlacesOnly(ctx, cand, reason)
	}
	metrics.RecordScrape(site.Engine, true)

	update, err := p.extractor.Extract(ctx, site.URL, site.Markdown)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		p.log.Info("extraction failed, storing places-only record",
			"place_id", cand.PlaceID, "website", cand.Website, "error", err)
		return p.storePlacesOnly(ctx, cand, "extract_failed")
	}

	sanitized := validate.Update(update)

	pantry := p.basePantry(cand)
	now := p.now().UTC()
	pantry.Status = sanitized.Status
	pantry.HoursNotes = sanitized.HoursNotes
	pantry.HoursToday = sanitized.HoursToday
	pantry.EligibilityRules = sanitized.EligibilityRules
	pantry.IsIDRequired = sanitized.IsIDRequired
	pantry.ResidencyReq = sanitized.ResidencyReq
	pantry.SpecialNotes = sanitized.SpecialNotes
	pantry.Confidence = sanitized.Confidence
	pantry.SourceURL = &site.URL
	pantry.ScrapeMethod = site.Engine
	pantry.ScrapedAt = &now

	stored, err := p.store.UpsertPantry(ctx, pantry)
	if err != nil {
		return Outcome{}, err
	}
	metrics.RecordPantryUpserted(string(OutcomeEnriched))

	return Outcome{Kind: OutcomeEnriched, Pantry: stored}, nil
}

func (p *Pipeline) storePlacesOnly(ctx context.Context, cand model.Candidate, reason string) (Outcome, error) {
	pantry := p.basePantry(cand)
	note := placesOnlyNote
	pantry.SpecialNotes = &note

	stored, err := p.store.UpsertPantry(ctx, pantry)
	if err != nil {
		return Outcome{}, err
	}
	metrics.RecordPantryUpserted(string(OutcomePlacesOnly))

	return Outcome{Kind: OutcomePlacesOnly, Pantry: stored, FailReason: reason}, nil
}

// basePantry builds the places-derived skeleton every stored record
// starts from.
func (p *Pipeline) basePantry(cand model.Candidate) model.Pantry {
	city, state := ParseCityState(cand.Address)
	return model.Pantry{
		PlaceID:          cand.PlaceID,
		Name:             cand.Name,
		Address:          cand.Address,
		City:             city,
		State:            state,
		Point:            model.GeoPoint{Lng: cand.Lng, Lat: cand.Lat},
		Status:           model.StatusUnknown,
		HoursNotes:       placesOnlyHoursNotes,
		HoursToday:       placesOnlyHoursToday,
		EligibilityRules: []string{validate.DefaultEligibility},
		Confidence:       placesOnlyConfidence,
		LastUpdated:      p.now().UTC(),
	}
}

// ParseCityState pulls the city and two-letter state out of a
// comma-separated formatted address such as
// "123 Main St, Eugene, OR 97401, USA".
func ParseCityState(address string) (city, state string) {
	parts := strings.Split(address, ",")
	if len(parts) < 3 {
		return "", ""
	}

	city = strings.TrimSpace(parts[len(parts)-3])

	stateZip := strings.Fields(strings.TrimSpace(parts[len(parts)-2]))
	if len(stateZip) > 0 && len(stateZip[0]) == 2 && isAlpha(stateZip[0]) {
		state = strings.ToUpper(stateZip[0])
	}
	return city, state
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
