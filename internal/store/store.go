package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"equitable/internal/model"
)

// Store wraps access to the database via a shared *sql.DB with pooling.
type Store struct {
	DB *sql.DB
}

// New creates a new Store that uses a shared *sql.DB with pooling.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

const pantryColumns = `id, place_id, name, address, city, state, lat, lng, status,
	hours_notes, hours_today, eligibility_rules, is_id_required, residency_req,
	special_notes, confidence, source_url, scrape_method, scraped_at, last_updated`

func scanPantry(row interface{ Scan(...any) error }) (model.Pantry, error) {
	var (
		p         model.Pantry
		id        uuid.UUID
		placeID   sql.NullString
		city      sql.NullString
		state     sql.NullString
		status    string
		rulesJSON []byte
		residency sql.NullString
		notes     sql.NullString
		sourceURL sql.NullString
		scrapedAt sql.NullTime
	)

	err := row.Scan(&id, &placeID, &p.Name, &p.Address, &city, &state,
		&p.Point.Lat, &p.Point.Lng, &status, &p.HoursNotes, &p.HoursToday,
		&rulesJSON, &p.IsIDRequired, &residency, &notes, &p.Confidence,
		&sourceURL, &p.ScrapeMethod, &scrapedAt, &p.LastUpdated)
	if err != nil {
		return model.Pantry{}, err
	}

	p.ID = id.String()
	p.PlaceID = placeID.String
	p.City = city.String
	p.State = state.String
	p.Status = model.ParseStatus(status)
	if len(rulesJSON) > 0 {
		_ = json.Unmarshal(rulesJSON, &p.EligibilityRules)
	}
	if residency.Valid {
		p.ResidencyReq = &residency.String
	}
	if notes.Valid {
		p.SpecialNotes = &notes.String
	}
	if sourceURL.Valid {
		p.SourceURL = &sourceURL.String
	}
	if scrapedAt.Valid {
		t := scrapedAt.Time
		p.ScrapedAt = &t
	}
	return p, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStrPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// UpsertPantry inserts or updates a pantry keyed by place_id. On update,
// scraped fields replace stored values only when the new record is at
// least as specific: nulls and UNKNOWN never overwrite real data, and a
// places-only record never downgrades an enriched one. Concurrent
// upserts for the same place_id are serialized by the unique index.
func (s *Store) UpsertPantry(ctx context.Context, p model.Pantry) (model.Pantry, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}
	rulesJSON, err := json.Marshal(p.EligibilityRules)
	if err != nil {
		return model.Pantry{}, err
	}

	var scrapedAt sql.NullTime
	if p.ScrapedAt != nil {
		scrapedAt = sql.NullTime{Time: *p.ScrapedAt, Valid: true}
	}

	if p.PlaceID == "" {
		// No upsert key; plain insert.
		row := s.DB.QueryRowContext(ctx, `
			INSERT INTO pantries (`+pantryColumns+`)
			VALUES ($1, NULL, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			RETURNING `+pantryColumns,
			p.ID, p.Name, p.Address, nullStr(p.City), nullStr(p.State),
			p.Point.Lat, p.Point.Lng, string(p.Status), p.HoursNotes, p.HoursToday,
			rulesJSON, p.IsIDRequired, nullStrPtr(p.ResidencyReq), nullStrPtr(p.SpecialNotes),
			p.Confidence, nullStrPtr(p.SourceURL), p.ScrapeMethod, scrapedAt, p.LastUpdated)
		return scanPantry(row)
	}

	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO pantries (`+pantryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (place_id) WHERE place_id IS NOT NULL DO UPDATE SET
			name = EXCLUDED.name,
			address = CASE WHEN EXCLUDED.address <> '' THEN EXCLUDED.address ELSE pantries.address END,
			city = COALESCE(EXCLUDED.city, pantries.city),
			state = COALESCE(EXCLUDED.state, pantries.state),
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			status = CASE WHEN EXCLUDED.status <> 'UNKNOWN' THEN EXCLUDED.status ELSE pantries.status END,
			hours_notes = CASE WHEN EXCLUDED.source_url IS NOT NULL THEN EXCLUDED.hours_notes ELSE pantries.hours_notes END,
			hours_today = CASE WHEN EXCLUDED.source_url IS NOT NULL THEN EXCLUDED.hours_today ELSE pantries.hours_today END,
			eligibility_rules = CASE WHEN EXCLUDED.source_url IS NOT NULL THEN EXCLUDED.eligibility_rules ELSE pantries.eligibility_rules END,
			is_id_required = CASE WHEN EXCLUDED.source_url IS NOT NULL THEN EXCLUDED.is_id_required ELSE pantries.is_id_required END,
			residency_req = COALESCE(EXCLUDED.residency_req, pantries.residency_req),
			special_notes = CASE WHEN EXCLUDED.source_url IS NOT NULL THEN EXCLUDED.special_notes ELSE COALESCE(EXCLUDED.special_notes, pantries.special_notes) END,
			confidence = CASE WHEN EXCLUDED.source_url IS NOT NULL THEN EXCLUDED.confidence ELSE GREATEST(pantries.confidence, EXCLUDED.confidence) END,
			source_url = COALESCE(EXCLUDED.source_url, pantries.source_url),
			scrape_method = CASE WHEN EXCLUDED.scrape_method <> '' THEN EXCLUDED.scrape_method ELSE pantries.scrape_method END,
			scraped_at = COALESCE(EXCLUDED.scraped_at, pantries.scraped_at),
			last_updated = GREATEST(pantries.last_updated, EXCLUDED.last_updated)
		RETURNING `+pantryColumns,
		p.ID, p.PlaceID, p.Name, p.Address, nullStr(p.City), nullStr(p.State),
		p.Point.Lat, p.Point.Lng, string(p.Status), p.HoursNotes, p.HoursToday,
		rulesJSON, p.IsIDRequired, nullStrPtr(p.ResidencyReq), nullStrPtr(p.SpecialNotes),
		p.Confidence, nullStrPtr(p.SourceURL), p.ScrapeMethod, scrapedAt, p.LastUpdated)
	return scanPantry(row)
}

// GetPantry fetches a pantry by its id.
func (s *Store) GetPantry(ctx context.Context, id uuid.UUID) (model.Pantry, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+pantryColumns+` FROM pantries WHERE id = $1`, id)
	return scanPantry(row)
}

// ExistingPlaceIDs returns the subset of the given place ids that are
// already present in the pantries table.
func (s *Store) ExistingPlaceIDs(ctx context.Context, placeIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(placeIDs) == 0 {
		return existing, nil
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT place_id FROM pantries WHERE place_id = ANY($1)`, placeIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// ListPantries returns pantries, optionally filtered by city and state,
// ordered by state, city, name for stable output.
func (s *Store) ListPantries(ctx context.Context, city, state string) ([]model.Pantry, error) {
	query := `SELECT ` + pantryColumns + ` FROM pantries`
	args := []any{}
	switch {
	case city != "" && state != "":
		query += ` WHERE lower(city) = lower($1) AND upper(state) = upper($2)`
		args = append(args, city, state)
	case city != "":
		query += ` WHERE lower(city) = lower($1)`
		args = append(args, city)
	case state != "":
		query += ` WHERE upper(state) = upper($1)`
		args = append(args, state)
	}
	query += ` ORDER BY state, city, name`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Pantry
	for rows.Next() {
		p, err := scanPantry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// NearbyPantries returns pantries within maxDistanceM meters of the
// given center, ordered by distance ascending.
func (s *Store) NearbyPantries(ctx context.Context, lat, lng float64, maxDistanceM float64, limit int) ([]model.Pantry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+pantryColumns+`,
			earth_distance(ll_to_earth(lat, lng), ll_to_earth($1, $2)) AS distance_m
		FROM pantries
		WHERE earth_box(ll_to_earth($1, $2), $3) @> ll_to_earth(lat, lng)
		  AND earth_distance(ll_to_earth(lat, lng), ll_to_earth($1, $2)) <= $3
		ORDER BY distance_m ASC
		LIMIT $4`, lat, lng, maxDistanceM, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Pantry
	for rows.Next() {
		var (
			p         model.Pantry
			id        uuid.UUID
			placeID   sql.NullString
			city      sql.NullString
			state     sql.NullString
			status    string
			rulesJSON []byte
			residency sql.NullString
			notes     sql.NullString
			sourceURL sql.NullString
			scrapedAt sql.NullTime
			distance  float64
		)
		err := rows.Scan(&id, &placeID, &p.Name, &p.Address, &city, &state,
			&p.Point.Lat, &p.Point.Lng, &status, &p.HoursNotes, &p.HoursToday,
			&rulesJSON, &p.IsIDRequired, &residency, &notes, &p.Confidence,
			&sourceURL, &p.ScrapeMethod, &scrapedAt, &p.LastUpdated, &distance)
		if err != nil {
			return nil, err
		}
		p.ID = id.String()
		p.PlaceID = placeID.String
		p.City = city.String
		p.State = state.String
		p.Status = model.ParseStatus(status)
		if len(rulesJSON) > 0 {
			_ = json.Unmarshal(rulesJSON, &p.EligibilityRules)
		}
		if residency.Valid {
			p.ResidencyReq = &residency.String
		}
		if notes.Valid {
			p.SpecialNotes = &notes.String
		}
		if sourceURL.Valid {
			p.SourceURL = &sourceURL.String
		}
		if scrapedAt.Valid {
			t := scrapedAt.Time
			p.ScrapedAt = &t
		}
		p.DistanceMeters = &distance
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPantriesNear counts pantries within radiusM meters of the center.
// Used by StartJob to report how many pantries the caller already has.
func (s *Store) CountPantriesNear(ctx context.Context, lat, lng float64, radiusM float64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT count(*)
		FROM pantries
		WHERE earth_box(ll_to_earth($1, $2), $3) @> ll_to_earth(lat, lng)
		  AND earth_distance(ll_to_earth(lat, lng), ll_to_earth($1, $2)) <= $3`,
		lat, lng, radiusM).Scan(&n)
	return n, err
}

// ListCities aggregates pantry counts and centroids per (city, state).
func (s *Store) ListCities(ctx context.Context) ([]model.CitySummary, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT city, state, count(*), avg(lat), avg(lng)
		FROM pantries
		WHERE city IS NOT NULL AND state IS NOT NULL
		GROUP BY city, state
		ORDER BY state, city`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CitySummary
	for rows.Next() {
		var c model.CitySummary
		if err := rows.Scan(&c.City, &c.State, &c.Count, &c.Center.Lat, &c.Center.Lng); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetPlacesCache fetches a cached candidate set by fingerprint. The
// second return value is the row's created_at; TTL checks are the
// caller's responsibility so tests can inject their own clock.
func (s *Store) GetPlacesCache(ctx context.Context, fingerprint string) ([]model.Candidate, time.Time, error) {
	var (
		payload   []byte
		createdAt time.Time
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT candidates, created_at FROM places_cache WHERE fingerprint = $1`,
		fingerprint).Scan(&payload, &createdAt)
	if err != nil {
		return nil, time.Time{}, err
	}

	var candidates []model.Candidate
	if err := json.Unmarshal(payload, &candidates); err != nil {
		return nil, time.Time{}, err
	}
	return candidates, createdAt, nil
}

// PutPlacesCache stores a candidate set under the fingerprint with a
// fresh created_at, replacing any previous entry atomically.
func (s *Store) PutPlacesCache(ctx context.Context, fingerprint string, candidates []model.Candidate, createdAt time.Time) error {
	payload, err := json.Marshal(candidates)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO places_cache (fingerprint, candidates, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (fingerprint) DO UPDATE SET
			candidates = EXCLUDED.candidates,
			created_at = EXCLUDED.created_at`,
		fingerprint, payload, createdAt)
	return err
}

// DeleteExpiredPlacesCache removes cache rows older than the cutoff and
// returns the number of rows deleted.
func (s *Store) DeleteExpiredPlacesCache(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM places_cache WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
