package places

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"equitable/internal/metrics"
	"equitable/internal/model"
)

// ErrUpstreamUnavailable is returned when every query variant failed
// and no cached result exists.
var ErrUpstreamUnavailable = errors.New("places upstream unavailable")

// websiteLookupConcurrency bounds parallel place-details calls used to
// backfill missing website URLs.
const websiteLookupConcurrency = 4

// Provider is a text-search backend for places.
type Provider interface {
	SearchText(ctx context.Context, query string, lat, lng, radiusM float64, maxResults int) ([]model.Candidate, error)
	LookupWebsite(ctx context.Context, placeID string) (string, error)
}

// CacheStore persists candidate sets keyed by fingerprint.
type CacheStore interface {
	GetPlacesCache(ctx context.Context, fingerprint string) ([]model.Candidate, time.Time, error)
	PutPlacesCache(ctx context.Context, fingerprint string, candidates []model.Candidate, createdAt time.Time) error
}

// Options configures a Client.
type Options struct {
	Variants       []string
	TimeoutMs      int
	CacheTTLSecond int
	LatLngRound    int
	MaxResults     int
}

// Client searches for food assistance places around a point, fanning
// out one text search per query variant and deduplicating the union.
// Results are cached by a content-addressed fingerprint.
type Client struct {
	provider Provider
	cache    CacheStore
	opts     Options
	now      func() time.Time
	log      *slog.Logger
}

func NewClient(provider Provider, cache CacheStore, opts Options, log *slog.Logger) *Client {
	if len(opts.Variants) == 0 {
		opts.Variants = []string{"food bank", "food pantry", "food distribution", "community food"}
	}
	if opts.TimeoutMs <= 0 {
		opts.TimeoutMs = 15000
	}
	if opts.CacheTTLSecond <= 0 {
		opts.CacheTTLSecond = 604800
	}
	if opts.LatLngRound <= 0 {
		opts.LatLngRound = 3
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		provider: provider,
		cache:    cache,
		opts:     opts,
		now:      time.Now,
		log:      log,
	}
}

// Fingerprint derives the cache key for a search: a sha256 over the
// rounded coordinates, the radius, and the sorted query variants. Two
// searches close enough to round to the same coordinates share a key.
func Fingerprint(lat, lng, radiusM float64, variants []string, decimals int) string {
	sorted := make([]string, len(variants))
	copy(sorted, variants)
	sort.Strings(sorted)

	key := fmt.Sprintf("%.*f|%.*f|%.0f|%s",
		decimals, lat, decimals, lng, radiusM, strings.Join(sorted, "|"))

	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Search returns deduplicated candidates around the point. An empty
// variants slice falls back to the configured defaults. The bool
// reports whether the result came from cache. Individual variant
// failures are tolerated; only a total failure returns
// ErrUpstreamUnavailable.
func (c *Client) Search(ctx context.Context, lat, lng, radiusM float64, variants []string) ([]model.Candidate, bool, error) {
	if len(variants) == 0 {
		variants = c.opts.Variants
	}
	fp := Fingerprint(lat, lng, radiusM, variants, c.opts.LatLngRound)

	if cached, createdAt, err := c.cache.GetPlacesCache(ctx, fp); err == nil {
		if c.now().Sub(createdAt) < time.Duration(c.opts.CacheTTLSecond)*time.Second {
			metrics.RecordPlacesSearch("cache_hit")
			return cached, true, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		c.log.Warn("places cache read failed", "error", err)
	}

	metrics.RecordPlacesSearch("cache_miss")

	var (
		mu       sync.Mutex
		byOrder  = make([][]model.Candidate, len(variants))
		failures int
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		i, variant := i, variant
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, time.Duration(c.opts.TimeoutMs)*time.Millisecond)
			defer cancel()

			found, err := c.provider.SearchText(vctx, variant, lat, lng, radiusM, c.opts.MaxResults)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				c.log.Warn("places variant search failed", "variant", variant, "error", err)
				return nil
			}
			byOrder[i] = found
			return nil
		})
	}
	g.Wait()

	if failures == len(variants) {
		metrics.RecordPlacesSearch("upstream_unavailable")
		return nil, false, ErrUpstreamUnavailable
	}

	// Union in variant order, first occurrence of a place id wins.
	seen := make(map[string]bool)
	merged := make([]model.Candidate, 0)
	for _, found := range byOrder {
		for _, cand := range found {
			if cand.PlaceID == "" || seen[cand.PlaceID] {
				continue
			}
			seen[cand.PlaceID] = true
			merged = append(merged, cand)
		}
	}

	c.backfillWebsites(ctx, merged)

	if err := c.cache.PutPlacesCache(ctx, fp, merged, c.now()); err != nil {
		c.log.Warn("places cache write failed", "error", err)
	}

	return merged, false, nil
}

// backfillWebsites fetches place details for candidates whose search
// result carried no website. Lookup failures leave the field empty.
func (c *Client) backfillWebsites(ctx context.Context, candidates []model.Candidate) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(websiteLookupConcurrency)

	for i := range candidates {
		if candidates[i].Website != "" {
			continue
		}
		i := i
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, time.Duration(c.opts.TimeoutMs)*time.Millisecond)
			defer cancel()

			website, err := c.provider.LookupWebsite(vctx, candidates[i].PlaceID)
			if err != nil {
				c.log.Debug("website lookup failed", "place_id", candidates[i].PlaceID, "error", err)
				return nil
			}
			candidates[i].Website = website
			return nil
		})
	}
	g.Wait()
}
