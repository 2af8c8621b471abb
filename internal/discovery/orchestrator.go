package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"equitable/internal/ingest"
	"equitable/internal/metrics"
	"equitable/internal/model"
)

// Searcher finds candidate places around a point. A nil or empty
// variants slice means the searcher's configured defaults.
type Searcher interface {
	Search(ctx context.Context, lat, lng, radiusM float64, variants []string) ([]model.Candidate, bool, error)
}

// Runner processes one candidate end to end.
type Runner interface {
	Process(ctx context.Context, cand model.Candidate) (ingest.Outcome, error)
}

// Store is the subset of the pantry store the orchestrator needs.
type Store interface {
	CountPantriesNear(ctx context.Context, lat, lng float64, radiusM float64) (int, error)
	ExistingPlaceIDs(ctx context.Context, placeIDs []string) (map[string]bool, error)
}

// Options tunes the orchestrator.
type Options struct {
	Workers          int
	JobTimeout       time.Duration
	ProgressCoalesce time.Duration
	SubscriberSlow   time.Duration
}

// Orchestrator runs discovery jobs: search, dedupe against the store,
// then fan candidate processing out over a worker pool shared by all
// jobs.
type Orchestrator struct {
	searcher Searcher
	pipeline Runner
	store    Store
	registry *Registry
	sem      chan struct{}
	opts     Options
	log      *slog.Logger
}

func NewOrchestrator(searcher Searcher, pipeline Runner, store Store, registry *Registry, opts Options, log *slog.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 6
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}
	if opts.ProgressCoalesce <= 0 {
		opts.ProgressCoalesce = 250 * time.Millisecond
	}
	if opts.SubscriberSlow <= 0 {
		opts.SubscriberSlow = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		searcher: searcher,
		pipeline: pipeline,
		store:    store,
		registry: registry,
		sem:      make(chan struct{}, opts.Workers),
		opts:     opts,
		log:      log,
	}
}

// StartJob registers and launches a discovery job for the area. An
// empty variants slice uses the searcher's configured defaults. The
// count of pantries already stored nearby is resolved before this
// returns so the caller can see it in the job snapshot.
func (o *Orchestrator) StartJob(query string, lat, lng, radiusM float64, variants []string) *Job {
	ctx, cancel := context.WithTimeout(context.Background(), o.opts.JobTimeout)

	job := newJob(uuid.New().String(), query, lat, lng, radiusM, variants, NewBus(o.opts.SubscriberSlow), cancel)

	existing := 0
	if n, err := o.store.CountPantriesNear(ctx, lat, lng, radiusM); err == nil {
		existing = n
	} else {
		o.log.Warn("nearby count failed", "job_id", job.ID, "error", err)
	}
	job.setFound(0, existing)

	o.registry.Add(job)

	o.log.Info("discovery job started",
		"job_id", job.ID, "query", query, "lat", lat, "lng", lng, "radius_m", radiusM)

	go o.run(ctx, job)
	return job
}

// StopJob cancels a running job. It returns false when the job id is
// unknown. Stopping a terminal job is a no-op.
func (o *Orchestrator) StopJob(id string) bool {
	job, ok := o.registry.Get(id)
	if !ok {
		return false
	}
	job.Cancel()
	return true
}

func (o *Orchestrator) run(ctx context.Context, job *Job) {
	defer job.cancel()
	bus := job.Bus()
	defer bus.Close()

	emit := func(t EventType, data any) {
		bus.Publish(Event{Type: t, JobID: job.ID, Time: time.Now().UTC(), Data: data})
	}

	existing := job.Counters().ExistingCount

	candidates, fromCache, err := o.searcher.Search(ctx, job.Lat, job.Lng, job.RadiusM, job.Variants)
	if err != nil {
		o.log.Error("places search failed", "job_id", job.ID, "error", err)
		emit(EventError, ErrorData{Message: "places search failed: " + err.Error()})
		emit(EventComplete, CompleteData{})
		job.finish(StateFailed, err.Error())
		metrics.RecordJobCompleted(string(StateFailed))
		return
	}

	job.setFound(len(candidates), existing)
	// Announce with the real candidate count. Subscribers that attached
	// earlier saw a synthesized job_started with urls_found 0; the later
	// value is authoritative.
	emit(EventJobStarted, JobStartedData{
		URLsFound:     len(candidates),
		ExistingCount: existing,
		FromCache:     fromCache,
	})

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.PlaceID != "" {
			ids = append(ids, c.PlaceID)
		}
	}
	known, err := o.store.ExistingPlaceIDs(ctx, ids)
	if err != nil {
		// Upserts are idempotent, so treating everything as new is safe.
		o.log.Warn("existing place lookup failed", "job_id", job.ID, "error", err)
		known = map[string]bool{}
	}

	prog := &progressEmitter{interval: o.opts.ProgressCoalesce, job: job, emit: emit}

	var wg sync.WaitGroup
	for _, cand := range candidates {
		if ctx.Err() != nil {
			break
		}

		if known[cand.PlaceID] {
			job.addSkipped()
			emit(EventPantrySkipped, PantrySkippedData{
				PlaceID: cand.PlaceID,
				Name:    cand.Name,
				Reason:  "already_known",
			})
			prog.maybe()
			continue
		}

		acquired := false
		select {
		case o.sem <- struct{}{}:
			acquired = true
		case <-ctx.Done():
		}
		if !acquired {
			break
		}

		wg.Add(1)
		cand := cand
		go func() {
			defer wg.Done()
			defer func() { <-o.sem }()
			o.processOne(ctx, job, cand, emit, prog)
		}()
	}
	wg.Wait()
	prog.flush()

	c := job.Counters()

	// Complete is always the last event, even after a timeout or a
	// StopJob; it carries the tally as of cancellation.
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			emit(EventError, ErrorData{Message: "job timed out"})
			emit(EventComplete, CompleteData{Found: c.Succeeded, Failed: c.Failed, Skipped: c.Skipped})
			job.finish(StateFailed, "timeout")
			metrics.RecordJobCompleted(string(StateFailed))
		} else {
			emit(EventComplete, CompleteData{Found: c.Succeeded, Failed: c.Failed, Skipped: c.Skipped})
			job.finish(StateCompleted, "cancelled")
			metrics.RecordJobCompleted(string(StateCompleted))
		}
		o.log.Info("discovery job ended early", "job_id", job.ID, "reason", ctx.Err())
		return
	}

	emit(EventComplete, CompleteData{Found: c.Succeeded, Failed: c.Failed, Skipped: c.Skipped})
	job.finish(StateCompleted, "")
	metrics.RecordJobCompleted(string(StateCompleted))

	o.log.Info("discovery job completed",
		"job_id", job.ID,
		"found", c.Succeeded, "failed", c.Failed, "skipped", c.Skipped)
}

func (o *Orchestrator) processOne(ctx context.Context, job *Job, cand model.Candidate, emit func(EventType, any), prog *progressEmitter) {
	out, err := o.pipeline.Process(ctx, cand)
	if err != nil {
		if ctx.Err() != nil {
			// The job is being torn down; leave the tally alone.
			return
		}
		job.addFailed()
		emit(EventPantryFailed, PantryFailedData{
			PlaceID: cand.PlaceID,
			Name:    cand.Name,
			Website: cand.Website,
			Reason:  err.Error(),
		})
		prog.maybe()
		return
	}

	job.addSucceeded()
	emit(EventPantryDiscovered, PantryDiscoveredData{
		Pantry:  out.Pantry,
		Outcome: string(out.Kind),
	})
	prog.maybe()
}

// progressEmitter rate-limits progress events so a burst of fast tasks
// does not flood the stream. flush always emits.
type progressEmitter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	job      *Job
	emit     func(EventType, any)
}

func (p *progressEmitter) maybe() {
	p.mu.Lock()
	now := time.Now()
	if now.Sub(p.last) < p.interval {
		p.mu.Unlock()
		return
	}
	p.last = now
	p.mu.Unlock()
	p.publish()
}

func (p *progressEmitter) flush() {
	p.mu.Lock()
	p.last = time.Now()
	p.mu.Unlock()
	p.publish()
}

func (p *progressEmitter) publish() {
	c := p.job.Counters()
	p.emit(EventProgress, ProgressData{
		Total:     c.URLsFound,
		Succeeded: c.Succeeded,
		Failed:    c.Failed,
		Skipped:   c.Skipped,
	})
}
