package places

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"equitable/internal/model"
)

type fakeProvider struct {
	mu       sync.Mutex
	searches int
	lookups  int
	results  map[string][]model.Candidate
	websites map[string]string
	failAll  bool
	failFor  map[string]bool
}

func (f *fakeProvider) SearchText(ctx context.Context, query string, lat, lng, radiusM float64, maxResults int) ([]model.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.failAll || f.failFor[query] {
		return nil, errors.New("upstream 500")
	}
	return f.results[query], nil
}

func (f *fakeProvider) LookupWebsite(ctx context.Context, placeID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if w, ok := f.websites[placeID]; ok {
		return w, nil
	}
	return "", errors.New("not found")
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	candidates []model.Candidate
	createdAt  time.Time
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]cacheEntry{}}
}

func (m *memCache) GetPlacesCache(ctx context.Context, fp string) ([]model.Candidate, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[fp]
	if !ok {
		return nil, time.Time{}, sql.ErrNoRows
	}
	return e.candidates, e.createdAt, nil
}

func (m *memCache) PutPlacesCache(ctx context.Context, fp string, candidates []model.Candidate, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fp] = cacheEntry{candidates: candidates, createdAt: createdAt}
	return nil
}

func TestFingerprint(t *testing.T) {
	variants := []string{"food bank", "food pantry"}

	a := Fingerprint(44.0521, -123.0868, 5000, variants, 3)
	b := Fingerprint(44.0521, -123.0868, 5000, []string{"food pantry", "food bank"}, 3)
	if a != b {
		t.Fatal("fingerprint should not depend on variant order")
	}

	// Coordinates that round to the same 3 decimals share a key.
	c := Fingerprint(44.05211, -123.08679, 5000, variants, 3)
	if a != c {
		t.Fatal("nearby coordinates should share a fingerprint after rounding")
	}

	// Radius changes the key.
	d := Fingerprint(44.0521, -123.0868, 8000, variants, 3)
	if a == d {
		t.Fatal("different radius should produce a different fingerprint")
	}

	// A different variant set changes the key.
	e := Fingerprint(44.0521, -123.0868, 5000, []string{"soup kitchen"}, 3)
	if a == e {
		t.Fatal("different variants should produce a different fingerprint")
	}
}

func newTestClient(p *fakeProvider, cache CacheStore, ttlSeconds int) *Client {
	return NewClient(p, cache, Options{
		Variants:       []string{"food bank", "food pantry"},
		TimeoutMs:      1000,
		CacheTTLSecond: ttlSeconds,
		LatLngRound:    3,
		MaxResults:     10,
	}, nil)
}

func TestSearchDeduplicatesAcrossVariants(t *testing.T) {
	p := &fakeProvider{
		results: map[string][]model.Candidate{
			"food bank": {
				{PlaceID: "a", Name: "Hope Center", Website: "https://hope.example.org"},
				{PlaceID: "b", Name: "Community Cupboard", Website: "https://cc.example.org"},
			},
			"food pantry": {
				{PlaceID: "b", Name: "Community Cupboard", Website: "https://cc.example.org"},
				{PlaceID: "c", Name: "St. Mary Pantry", Website: "https://sm.example.org"},
			},
		},
	}

	c := newTestClient(p, newMemCache(), 3600)
	got, cached, err := c.Search(context.Background(), 44.05, -123.08, 5000, nil)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if cached {
		t.Fatal("first search should not be served from cache")
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 unique candidates, got %d (%v)", len(got), got)
	}
	if got[0].PlaceID != "a" || got[1].PlaceID != "b" || got[2].PlaceID != "c" {
		t.Fatalf("expected first-seen ordering a,b,c, got %v", got)
	}
}

func TestSearchCacheHit(t *testing.T) {
	p := &fakeProvider{
		results: map[string][]model.Candidate{
			"food bank": {{PlaceID: "a", Name: "Hope Center", Website: "https://hope.example.org"}},
		},
	}
	cache := newMemCache()
	c := newTestClient(p, cache, 3600)

	if _, _, err := c.Search(context.Background(), 44.05, -123.08, 5000, nil); err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	before := p.searches

	got, cached, err := c.Search(context.Background(), 44.05, -123.08, 5000, nil)
	if err != nil {
		t.Fatalf("second search failed: %v", err)
	}
	if !cached {
		t.Fatal("expected second search to hit the cache")
	}
	if p.searches != before {
		t.Fatalf("expected no provider calls on cache hit, got %d extra", p.searches-before)
	}
	if len(got) != 1 || got[0].PlaceID != "a" {
		t.Fatalf("unexpected cached candidates: %v", got)
	}
}

func TestSearchCacheExpiry(t *testing.T) {
	p := &fakeProvider{
		results: map[string][]model.Candidate{
			"food bank": {{PlaceID: "a", Name: "Hope Center", Website: "https://hope.example.org"}},
		},
	}
	cache := newMemCache()
	c := newTestClient(p, cache, 60)

	base := time.Now()
	c.now = func() time.Time { return base }

	if _, _, err := c.Search(context.Background(), 44.05, -123.08, 5000, nil); err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	before := p.searches

	// Move past the TTL; the cached row must be ignored.
	c.now = func() time.Time { return base.Add(61 * time.Second) }

	_, cached, err := c.Search(context.Background(), 44.05, -123.08, 5000, nil)
	if err != nil {
		t.Fatalf("search after expiry failed: %v", err)
	}
	if cached {
		t.Fatal("expected expired entry to miss")
	}
	if p.searches == before {
		t.Fatal("expected provider to be queried again after expiry")
	}
}

func TestSearchPartialFailureTolerated(t *testing.T) {
	p := &fakeProvider{
		results: map[string][]model.Candidate{
			"food pantry": {{PlaceID: "c", Name: "St. Mary Pantry", Website: "https://sm.example.org"}},
		},
		failFor: map[string]bool{"food bank": true},
	}

	c := newTestClient(p, newMemCache(), 3600)
	got, _, err := c.Search(context.Background(), 44.05, -123.08, 5000, nil)
	if err != nil {
		t.Fatalf("expected partial failure to be tolerated, got %v", err)
	}
	if len(got) != 1 || got[0].PlaceID != "c" {
		t.Fatalf("unexpected candidates: %v", got)
	}
}

func TestSearchAllVariantsFail(t *testing.T) {
	p := &fakeProvider{failAll: true}
	c := newTestClient(p, newMemCache(), 3600)

	_, _, err := c.Search(context.Background(), 44.05, -123.08, 5000, nil)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestSearchVariantsOverride(t *testing.T) {
	p := &fakeProvider{
		results: map[string][]model.Candidate{
			"soup kitchen": {{PlaceID: "s", Name: "Downtown Soup Kitchen", Website: "https://dsk.example.org"}},
		},
	}

	c := newTestClient(p, newMemCache(), 3600)
	got, _, err := c.Search(context.Background(), 44.05, -123.08, 5000, []string{"soup kitchen"})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(got) != 1 || got[0].PlaceID != "s" {
		t.Fatalf("expected the override variant's results, got %v", got)
	}
	if p.searches != 1 {
		t.Fatalf("expected one provider call for one variant, got %d", p.searches)
	}
}

func TestSearchBackfillsWebsites(t *testing.T) {
	p := &fakeProvider{
		results: map[string][]model.Candidate{
			"food bank": {
				{PlaceID: "a", Name: "Hope Center"},
				{PlaceID: "b", Name: "Community Cupboard", Website: "https://cc.example.org"},
			},
		},
		websites: map[string]string{"a": "https://hope.example.org"},
	}

	c := newTestClient(p, newMemCache(), 3600)
	got, _, err := c.Search(context.Background(), 44.05, -123.08, 5000, nil)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if got[0].Website != "https://hope.example.org" {
		t.Fatalf("expected backfilled website, got %q", got[0].Website)
	}
	if p.lookups != 1 {
		t.Fatalf("expected exactly one details lookup, got %d", p.lookups)
	}
}
