package http

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"equitable/internal/discovery"
)

const (
	defaultRadiusM    = 5000.0
	maxRadiusM        = 50000.0
	heartbeatInterval = 15 * time.Second
)

// discoverHandler starts a discovery job for an area and returns 202
// with the job snapshot.
func discoverHandler(c *fiber.Ctx) error {
	var req DiscoverRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}

	if req.Lat < -90 || req.Lat > 90 || req.Lng < -180 || req.Lng > 180 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "lat must be in [-90,90] and lng in [-180,180]",
		})
	}

	radius := defaultRadiusM
	if req.RadiusM != nil {
		radius = *req.RadiusM
	}
	if radius <= 0 || radius > maxRadiusM {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   fmt.Sprintf("radius_m must be in (0,%d]", int(maxRadiusM)),
		})
	}

	orch := c.Locals("orchestrator").(*discovery.Orchestrator)
	job := orch.StartJob(req.Query, req.Lat, req.Lng, radius, req.Variants)

	snap := job.Snapshot()
	return c.Status(fiber.StatusAccepted).JSON(DiscoverResponse{
		Success:          true,
		Job:              snap,
		StreamURL:        "/v1/discover/" + job.ID + "/stream",
		ExistingPantries: snap.Counters.ExistingCount,
	})
}

// discoverStatusHandler returns the current snapshot of a job.
func discoverStatusHandler(c *fiber.Ctx) error {
	reg := c.Locals("registry").(*discovery.Registry)

	job, ok := reg.Get(c.Params("id"))
	if !ok {
		return jobNotFound(c)
	}

	return c.JSON(JobStatusResponse{Success: true, Job: job.Snapshot()})
}

// discoverStopHandler cancels a running job. Stopping a job that has
// already finished is a no-op and still returns the snapshot.
func discoverStopHandler(c *fiber.Ctx) error {
	orch := c.Locals("orchestrator").(*discovery.Orchestrator)
	reg := c.Locals("registry").(*discovery.Registry)

	id := c.Params("id")
	if !orch.StopJob(id) {
		return jobNotFound(c)
	}

	job, _ := reg.Get(id)
	return c.JSON(JobStatusResponse{Success: true, Job: job.Snapshot()})
}

// discoverStreamHandler streams a job's events as server-sent events.
// The stream opens with a status snapshot, carries heartbeats while
// idle, and ends with a final snapshot once the job is terminal.
func discoverStreamHandler(c *fiber.Ctx) error {
	reg := c.Locals("registry").(*discovery.Registry)

	job, ok := reg.Get(c.Params("id"))
	if !ok {
		return jobNotFound(c)
	}

	// The subscriber's channel is pre-seeded with a synthesized
	// job_started reflecting the job's current state.
	sub := job.Subscribe()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer job.Bus().Unsubscribe(sub)

		writeSSE(w, "status", job.Snapshot())
		if w.Flush() != nil {
			return
		}

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case ev, open := <-sub.C():
				if !open {
					// Terminal state or dropped for slowness; either
					// way, close out with the last snapshot.
					writeSSE(w, "status", job.Snapshot())
					w.Flush()
					return
				}
				writeSSE(w, string(ev.Type), ev)
				if w.Flush() != nil {
					return
				}
			case <-heartbeat.C:
				writeSSE(w, string(discovery.EventHeartbeat), fiber.Map{"time": time.Now().UTC()})
				if w.Flush() != nil {
					return
				}
			}
		}
	})

	return nil
}

func writeSSE(w *bufio.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func jobNotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
		Success: false,
		Code:    "NOT_FOUND",
		Error:   "Unknown discovery job",
	})
}
