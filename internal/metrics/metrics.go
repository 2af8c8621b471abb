package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the discovery service.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	placesSearches = make(map[string]int64)
	llmExtracts    = make(map[llmKey]int64)
	scrapesTotal   = make(map[scrapeKey]int64)

	jobsCompleted      = make(map[string]int64)
	pantriesUpserted   = make(map[string]int64)
	subscribersDropped int64

	retentionCacheDeleted int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type llmKey struct {
	Provider string
	Model    string
	Success  string
}

type scrapeKey struct {
	Engine  string
	Success string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordPlacesSearch increments the counter for a places lookup
// outcome: "cache_hit", "cache_miss" or "upstream_unavailable".
func RecordPlacesSearch(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	placesSearches[outcome]++
}

// RecordLLMExtract increments LLM extract counters.
func RecordLLMExtract(provider, model string, success bool) {
	mu.Lock()
	defer mu.Unlock()

	s := "false"
	if success {
		s = "true"
	}
	key := llmKey{Provider: provider, Model: model, Success: s}
	llmExtracts[key]++
}

// RecordScrape increments scrape counters per engine.
func RecordScrape(engine string, success bool) {
	mu.Lock()
	defer mu.Unlock()

	s := "false"
	if success {
		s = "true"
	}
	scrapesTotal[scrapeKey{Engine: engine, Success: s}]++
}

// RecordJobCompleted increments the counter of discovery jobs reaching
// a terminal status.
func RecordJobCompleted(status string) {
	mu.Lock()
	defer mu.Unlock()
	jobsCompleted[status]++
}

// RecordPantryUpserted increments the counter of stored pantries by
// outcome ("enriched" or "places_only").
func RecordPantryUpserted(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	pantriesUpserted[outcome]++
}

// RecordSubscriberDropped increments the count of stream subscribers
// dropped for not keeping up.
func RecordSubscriberDropped() {
	mu.Lock()
	defer mu.Unlock()
	subscribersDropped++
}

// RecordRetentionCacheRows increments the counter of places cache rows
// deleted by TTL cleanup.
func RecordRetentionCacheRows(deleted int64) {
	if deleted <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	retentionCacheDeleted += deleted
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP equitable_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE equitable_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "equitable_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP equitable_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE equitable_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP equitable_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE equitable_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		sum := latencyMsSum[k]
		cnt := latencyMsCount[k]
		fmt.Fprintf(&b, "equitable_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, sum)
		fmt.Fprintf(&b, "equitable_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, cnt)
	}

	// Places lookup metrics
	b.WriteString("# HELP equitable_places_searches_total Places lookups by outcome\n")
	b.WriteString("# TYPE equitable_places_searches_total counter\n")

	var outcomes []string
	for k := range placesSearches {
		outcomes = append(outcomes, k)
	}
	sort.Strings(outcomes)
	for _, k := range outcomes {
		fmt.Fprintf(&b, "equitable_places_searches_total{outcome=\"%s\"} %d\n", k, placesSearches[k])
	}

	// LLM extract metrics
	b.WriteString("# HELP equitable_llm_extract_requests_total Total LLM extract requests\n")
	b.WriteString("# TYPE equitable_llm_extract_requests_total counter\n")

	var llmKeys []llmKey
	for k := range llmExtracts {
		llmKeys = append(llmKeys, k)
	}
	sort.Slice(llmKeys, func(i, j int) bool {
		if llmKeys[i].Provider != llmKeys[j].Provider {
			return llmKeys[i].Provider < llmKeys[j].Provider
		}
		if llmKeys[i].Model != llmKeys[j].Model {
			return llmKeys[i].Model < llmKeys[j].Model
		}
		return llmKeys[i].Success < llmKeys[j].Success
	})

	for _, k := range llmKeys {
		v := llmExtracts[k]
		fmt.Fprintf(&b, "equitable_llm_extract_requests_total{provider=\"%s\",model=\"%s\",success=\"%s\"} %d\n",
			k.Provider, k.Model, k.Success, v)
	}

	// Scrape metrics
	b.WriteString("# HELP equitable_scrapes_total Total page scrapes by engine\n")
	b.WriteString("# TYPE equitable_scrapes_total counter\n")

	var scrapeKeys []scrapeKey
	for k := range scrapesTotal {
		scrapeKeys = append(scrapeKeys, k)
	}
	sort.Slice(scrapeKeys, func(i, j int) bool {
		if scrapeKeys[i].Engine != scrapeKeys[j].Engine {
			return scrapeKeys[i].Engine < scrapeKeys[j].Engine
		}
		return scrapeKeys[i].Success < scrapeKeys[j].Success
	})
	for _, k := range scrapeKeys {
		fmt.Fprintf(&b, "equitable_scrapes_total{engine=\"%s\",success=\"%s\"} %d\n",
			k.Engine, k.Success, scrapesTotal[k])
	}

	// Discovery job metrics
	b.WriteString("# HELP equitable_discovery_jobs_total Discovery jobs by terminal status\n")
	b.WriteString("# TYPE equitable_discovery_jobs_total counter\n")

	var statuses []string
	for k := range jobsCompleted {
		statuses = append(statuses, k)
	}
	sort.Strings(statuses)
	for _, k := range statuses {
		fmt.Fprintf(&b, "equitable_discovery_jobs_total{status=\"%s\"} %d\n", k, jobsCompleted[k])
	}

	b.WriteString("# HELP equitable_pantries_upserted_total Stored pantries by outcome\n")
	b.WriteString("# TYPE equitable_pantries_upserted_total counter\n")

	var upsertOutcomes []string
	for k := range pantriesUpserted {
		upsertOutcomes = append(upsertOutcomes, k)
	}
	sort.Strings(upsertOutcomes)
	for _, k := range upsertOutcomes {
		fmt.Fprintf(&b, "equitable_pantries_upserted_total{outcome=\"%s\"} %d\n", k, pantriesUpserted[k])
	}

	b.WriteString("# HELP equitable_stream_subscribers_dropped_total Stream subscribers dropped for slowness\n")
	b.WriteString("# TYPE equitable_stream_subscribers_dropped_total counter\n")
	fmt.Fprintf(&b, "equitable_stream_subscribers_dropped_total %d\n", subscribersDropped)

	// Retention metrics
	b.WriteString("# HELP equitable_retention_cache_rows_deleted_total Places cache rows deleted by TTL\n")
	b.WriteString("# TYPE equitable_retention_cache_rows_deleted_total counter\n")
	fmt.Fprintf(&b, "equitable_retention_cache_rows_deleted_total %d\n", retentionCacheDeleted)

	return b.String()
}
