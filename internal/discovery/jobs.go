package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is a job's lifecycle state.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is final. A cancelled job counts
// as completed with whatever tally it had at cancellation.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Counters is the running tally for a job. At completion
// Succeeded+Failed+Skipped equals URLsFound.
type Counters struct {
	URLsFound     int `json:"urls_found"`
	ExistingCount int `json:"existing_count"`
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`
	Skipped       int `json:"skipped"`
}

// Status is the queryable snapshot of a job.
type Status struct {
	ID         string     `json:"id"`
	State      State      `json:"state"`
	Query      string     `json:"query,omitempty"`
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	RadiusM    float64    `json:"radius_m"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Counters   Counters   `json:"counters"`
	Error      string     `json:"error,omitempty"`
}

// Job is one discovery run. All mutation goes through its methods so
// workers, the orchestrator, and HTTP handlers can share it.
type Job struct {
	ID       string
	Query    string
	Lat      float64
	Lng      float64
	RadiusM  float64
	Variants []string

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	finishedAt time.Time
	counters   Counters
	lastError  string

	bus    *Bus
	cancel context.CancelFunc
}

func newJob(id, query string, lat, lng, radiusM float64, variants []string, bus *Bus, cancel context.CancelFunc) *Job {
	return &Job{
		ID:        id,
		Query:     query,
		Lat:       lat,
		Lng:       lng,
		RadiusM:   radiusM,
		Variants:  variants,
		state:     StateRunning,
		startedAt: time.Now().UTC(),
		bus:       bus,
		cancel:    cancel,
	}
}

// Bus returns the job's event bus.
func (j *Job) Bus() *Bus { return j.bus }

// Subscribe attaches to the job's event stream. The subscriber first
// receives a job_started synthesized from the job's current state;
// per-pantry history is not replayed.
func (j *Job) Subscribe() *Subscriber {
	c := j.Counters()
	return j.bus.SubscribeWith(Event{
		Type:  EventJobStarted,
		JobID: j.ID,
		Time:  time.Now().UTC(),
		Data: JobStartedData{
			URLsFound:     c.URLsFound,
			ExistingCount: c.ExistingCount,
		},
	})
}

// Cancel requests cancellation. It is idempotent and a no-op once the
// job is terminal.
func (j *Job) Cancel() {
	j.mu.Lock()
	terminal := j.state.Terminal()
	j.mu.Unlock()
	if !terminal {
		j.cancel()
	}
}

// Snapshot returns the job's current status.
func (j *Job) Snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := Status{
		ID:        j.ID,
		State:     j.state,
		Query:     j.Query,
		Lat:       j.Lat,
		Lng:       j.Lng,
		RadiusM:   j.RadiusM,
		StartedAt: j.startedAt,
		Counters:  j.counters,
		Error:     j.lastError,
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		st.FinishedAt = &t
	}
	return st
}

// Counters returns a copy of the current tally.
func (j *Job) Counters() Counters {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counters
}

func (j *Job) setFound(urlsFound, existing int) {
	j.mu.Lock()
	j.counters.URLsFound = urlsFound
	j.counters.ExistingCount = existing
	j.mu.Unlock()
}

func (j *Job) addSucceeded() Counters { return j.add(func(c *Counters) { c.Succeeded++ }) }
func (j *Job) addFailed() Counters    { return j.add(func(c *Counters) { c.Failed++ }) }
func (j *Job) addSkipped() Counters   { return j.add(func(c *Counters) { c.Skipped++ }) }

func (j *Job) add(f func(*Counters)) Counters {
	j.mu.Lock()
	defer j.mu.Unlock()
	f(&j.counters)
	return j.counters
}

// finish moves the job to a terminal state once; later calls lose.
func (j *Job) finish(state State, errMsg string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Terminal() {
		return false
	}
	j.state = state
	j.lastError = errMsg
	j.finishedAt = time.Now().UTC()
	return true
}

func (j *Job) finishedTime() (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.state.Terminal() {
		return time.Time{}, false
	}
	return j.finishedAt, true
}

// Registry tracks jobs in memory. Terminal jobs stay queryable for the
// retention window and are then swept.
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger
}

func NewRegistry(retention time.Duration, log *slog.Logger) *Registry {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		jobs:      make(map[string]*Job),
		retention: retention,
		now:       time.Now,
		log:       log,
	}
}

func (r *Registry) Add(job *Job) {
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Sweep drops terminal jobs older than the retention window and
// returns how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, job := range r.jobs {
		if finished, ok := job.finishedTime(); ok && finished.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps on the interval until the context ends.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.log.Debug("swept finished discovery jobs", "removed", n)
			}
		}
	}
}
