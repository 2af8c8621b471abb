package ingest

import (
	"context"
	"errors"
	"testing"

	"equitable/internal/model"
	"equitable/internal/scraper"
)

type fakeSiteScraper struct {
	result *scraper.SiteResult
	err    error
}

func (f *fakeSiteScraper) ScrapeSite(ctx context.Context, siteURL string) (*scraper.SiteResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeExtractor struct {
	update *model.PantryUpdate
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, sourceURL, markdown string) (*model.PantryUpdate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.update, nil
}

type fakeStore struct {
	upserts []model.Pantry
	err     error
}

func (f *fakeStore) UpsertPantry(ctx context.Context, p model.Pantry) (model.Pantry, error) {
	if f.err != nil {
		return model.Pantry{}, f.err
	}
	if p.ID == "" {
		p.ID = "generated-id"
	}
	f.upserts = append(f.upserts, p)
	return p, nil
}

func intPtr(v int) *int { return &v }

var testCandidate = model.Candidate{
	PlaceID: "place-1",
	Name:    "Hope Center",
	Address: "123 Main St, Eugene, OR 97401, USA",
	Lat:     44.05,
	Lng:     -123.08,
	Website: "https://hope.example.org",
}

func TestProcessEnriched(t *testing.T) {
	store := &fakeStore{}
	p := New(
		&fakeSiteScraper{result: &scraper.SiteResult{
			URL:      "https://hope.example.org",
			Markdown: "## Source: x\n\nOpen Tuesdays",
			Pages:    1,
			Engine:   "http",
		}},
		&fakeExtractor{update: &model.PantryUpdate{
			Status:     model.StatusOpen,
			HoursNotes: "Tue 9-12",
			Confidence: intPtr(8),
		}},
		store, nil)

	out, err := p.Process(context.Background(), testCandidate)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if out.Kind != OutcomeEnriched {
		t.Fatalf("expected enriched outcome, got %s", out.Kind)
	}

	stored := store.upserts[0]
	if stored.Status != model.StatusOpen || stored.HoursNotes != "Tue 9-12" {
		t.Fatalf("expected extracted fields stored, got %+v", stored)
	}
	if stored.SourceURL == nil || *stored.SourceURL != "https://hope.example.org" {
		t.Fatalf("expected source url set, got %v", stored.SourceURL)
	}
	if stored.ScrapeMethod != "http" || stored.ScrapedAt == nil {
		t.Fatalf("expected scrape provenance recorded, got %+v", stored)
	}
	if stored.City != "Eugene" || stored.State != "OR" {
		t.Fatalf("expected city/state parsed from address, got %q %q", stored.City, stored.State)
	}
	if stored.Confidence != 8 {
		t.Fatalf("expected confidence 8, got %d", stored.Confidence)
	}
}

func TestProcessScrapeFailureFallsBack(t *testing.T) {
	store := &fakeStore{}
	p := New(
		&fakeSiteScraper{err: &scraper.Failure{Kind: scraper.FailTimeout, URL: "https://hope.example.org"}},
		&fakeExtractor{},
		store, nil)

	out, err := p.Process(context.Background(), testCandidate)
	if err != nil {
		t.Fatalf("expected fallback instead of error, got %v", err)
	}
	if out.Kind != OutcomePlacesOnly {
		t.Fatalf("expected places_only outcome, got %s", out.Kind)
	}
	if out.FailReason != "timeout" {
		t.Fatalf("expected timeout fail reason, got %q", out.FailReason)
	}

	stored := store.upserts[0]
	if stored.Status != model.StatusUnknown || stored.Confidence != 3 {
		t.Fatalf("expected places-only defaults, got %+v", stored)
	}
	if stored.HoursNotes != "Not listed on website" || stored.HoursToday != "Not listed" {
		t.Fatalf("expected default hours text, got %q / %q", stored.HoursNotes, stored.HoursToday)
	}
	if stored.SourceURL != nil {
		t.Fatal("places-only record must not claim a source url")
	}
}

func TestProcessExtractFailureFallsBack(t *testing.T) {
	store := &fakeStore{}
	p := New(
		&fakeSiteScraper{result: &scraper.SiteResult{URL: "https://hope.example.org", Markdown: "content", Engine: "http"}},
		&fakeExtractor{err: errors.New("llm unavailable")},
		store, nil)

	out, err := p.Process(context.Background(), testCandidate)
	if err != nil {
		t.Fatalf("expected fallback instead of error, got %v", err)
	}
	if out.Kind != OutcomePlacesOnly || out.FailReason != "extract_failed" {
		t.Fatalf("expected places_only with extract_failed, got %+v", out)
	}
}

func TestProcessNoWebsite(t *testing.T) {
	store := &fakeStore{}
	p := New(&fakeSiteScraper{}, &fakeExtractor{}, store, nil)

	cand := testCandidate
	cand.Website = ""

	out, err := p.Process(context.Background(), cand)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if out.Kind != OutcomePlacesOnly || out.FailReason != "" {
		t.Fatalf("expected clean places_only outcome, got %+v", out)
	}
}

func TestProcessRejectsIncompleteCandidate(t *testing.T) {
	store := &fakeStore{}
	p := New(&fakeSiteScraper{}, &fakeExtractor{}, store, nil)

	nameless := testCandidate
	nameless.Name = "  "
	if _, err := p.Process(context.Background(), nameless); !errors.Is(err, ErrIncompleteCandidate) {
		t.Fatalf("expected ErrIncompleteCandidate for blank name, got %v", err)
	}

	nowhere := testCandidate
	nowhere.Lat, nowhere.Lng = 0, 0
	if _, err := p.Process(context.Background(), nowhere); !errors.Is(err, ErrIncompleteCandidate) {
		t.Fatalf("expected ErrIncompleteCandidate for missing coordinates, got %v", err)
	}

	if len(store.upserts) != 0 {
		t.Fatalf("incomplete candidates must never be stored, got %d upserts", len(store.upserts))
	}
}

func TestProcessStoreErrorPropagates(t *testing.T) {
	p := New(&fakeSiteScraper{}, &fakeExtractor{}, &fakeStore{err: errors.New("db down")}, nil)

	cand := testCandidate
	cand.Website = ""

	if _, err := p.Process(context.Background(), cand); err == nil {
		t.Fatal("expected storage error to propagate")
	}
}

func TestProcessCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(
		&fakeSiteScraper{err: ctx.Err()},
		&fakeExtractor{},
		&fakeStore{}, nil)

	_, err := p.Process(ctx, testCandidate)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to propagate, got %v", err)
	}
}

func TestParseCityState(t *testing.T) {
	cases := []struct {
		address     string
		city, state string
	}{
		{"123 Main St, Eugene, OR 97401, USA", "Eugene", "OR"},
		{"500 Oak Ave, Suite 2, Springfield, or 97477, USA", "Springfield", "OR"},
		{"Eugene, USA", "", ""},
		{"", "", ""},
	}
	for _, tc := range cases {
		city, state := ParseCityState(tc.address)
		if city != tc.city || state != tc.state {
			t.Errorf("ParseCityState(%q) = %q,%q want %q,%q", tc.address, city, state, tc.city, tc.state)
		}
	}
}
