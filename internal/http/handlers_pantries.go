package http

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"equitable/internal/ingest"
	"equitable/internal/model"
	"equitable/internal/store"
)

const (
	defaultNearbyLimit = 50
	maxNearbyLimit     = 200
)

// listPantriesHandler returns stored pantries, optionally filtered by
// city and state.
func listPantriesHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	pantries, err := st.ListPantries(c.Context(), c.Query("city"), c.Query("state"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(PantriesResponse{Success: true, Count: len(pantries), Pantries: pantries})
}

// nearbyPantriesHandler returns pantries within radius_m of a point,
// closest first, with distance_meters populated.
func nearbyPantriesHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "lat and lng query parameters are required and must be valid coordinates",
		})
	}

	radius := defaultRadiusM
	if raw := c.Query("radius_m"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 || r > maxRadiusM {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "radius_m must be a number in (0,50000]",
			})
		}
		radius = r
	}

	limit := defaultNearbyLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "limit must be a positive integer",
			})
		}
		if n > maxNearbyLimit {
			n = maxNearbyLimit
		}
		limit = n
	}

	pantries, err := st.NearbyPantries(c.Context(), lat, lng, radius, limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(PantriesResponse{Success: true, Count: len(pantries), Pantries: pantries})
}

// citiesHandler returns the cities that have at least one pantry.
func citiesHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	cities, err := st.ListCities(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(CitiesResponse{Success: true, Cities: cities})
}

// ingestPantryHandler re-runs scrape and extraction for one stored
// pantry, synchronously. The request body may name a website; otherwise
// the pantry's known source URL is used.
func ingestPantryHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)
	pipe := c.Locals("pipeline").(*ingest.Pipeline)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "pantry id must be a UUID",
		})
	}

	pantry, err := st.GetPantry(c.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Success: false,
				Code:    "NOT_FOUND",
				Error:   "Unknown pantry",
			})
		}
		return internalError(c, err)
	}

	var req IngestRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST_INVALID_JSON",
				Error:   "Bad request, malformed JSON",
			})
		}
	}

	website := req.Website
	if website == "" && pantry.SourceURL != nil {
		website = *pantry.SourceURL
	}
	if website == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
			Success: false,
			Code:    "NO_WEBSITE",
			Error:   "Pantry has no known website; provide one in the request body",
		})
	}

	cand := model.Candidate{
		PlaceID: pantry.PlaceID,
		Name:    pantry.Name,
		Address: pantry.Address,
		Lat:     pantry.Point.Lat,
		Lng:     pantry.Point.Lng,
		Website: website,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	out, err := pipe.Process(ctx, cand)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{
			Success: false,
			Code:    "INGEST_FAILED",
			Error:   err.Error(),
		})
	}

	return c.JSON(IngestResponse{
		Success: true,
		Outcome: string(out.Kind),
		Pantry:  out.Pantry,
	})
}

func internalError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Success: false,
		Code:    "INTERNAL_ERROR",
		Error:   err.Error(),
	})
}
