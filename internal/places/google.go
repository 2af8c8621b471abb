package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"equitable/internal/model"
)

const googleBaseURL = "https://places.googleapis.com/v1"

const searchFieldMask = "places.id,places.displayName,places.formattedAddress,places.location,places.websiteUri"

// GoogleProvider implements Provider against the Google Places API
// (New) text search and place details endpoints.
type GoogleProvider struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewGoogleProvider(apiKey string) *GoogleProvider {
	return &GoogleProvider{
		apiKey:  apiKey,
		baseURL: googleBaseURL,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

type googleLatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type googleCircle struct {
	Center googleLatLng `json:"center"`
	Radius float64      `json:"radius"`
}

type googleLocationBias struct {
	Circle googleCircle `json:"circle"`
}

type googleSearchRequest struct {
	TextQuery      string              `json:"textQuery"`
	MaxResultCount int                 `json:"maxResultCount,omitempty"`
	LocationBias   *googleLocationBias `json:"locationBias,omitempty"`
}

type googlePlace struct {
	ID          string `json:"id"`
	DisplayName struct {
		Text string `json:"text"`
	} `json:"displayName"`
	FormattedAddress string       `json:"formattedAddress"`
	Location         googleLatLng `json:"location"`
	WebsiteURI       string       `json:"websiteUri"`
}

type googleSearchResponse struct {
	Places []googlePlace `json:"places"`
}

func (p *GoogleProvider) SearchText(ctx context.Context, query string, lat, lng, radiusM float64, maxResults int) ([]model.Candidate, error) {
	body := googleSearchRequest{
		TextQuery:      query,
		MaxResultCount: maxResults,
		LocationBias: &googleLocationBias{
			Circle: googleCircle{
				Center: googleLatLng{Latitude: lat, Longitude: lng},
				Radius: radiusM,
			},
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/places:searchText", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", p.apiKey)
	req.Header.Set("X-Goog-FieldMask", searchFieldMask)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("places text search failed with status %d", resp.StatusCode)
	}

	var parsed googleSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	candidates := make([]model.Candidate, 0, len(parsed.Places))
	for _, place := range parsed.Places {
		candidates = append(candidates, model.Candidate{
			PlaceID: place.ID,
			Name:    place.DisplayName.Text,
			Address: place.FormattedAddress,
			Lat:     place.Location.Latitude,
			Lng:     place.Location.Longitude,
			Website: place.WebsiteURI,
		})
	}
	return candidates, nil
}

// LookupWebsite fetches place details for a single place id, asking
// only for the website field.
func (p *GoogleProvider) LookupWebsite(ctx context.Context, placeID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/places/"+placeID, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Goog-Api-Key", p.apiKey)
	req.Header.Set("X-Goog-FieldMask", "websiteUri")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("place details failed with status %d", resp.StatusCode)
	}

	var parsed struct {
		WebsiteURI string `json:"websiteUri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	return parsed.WebsiteURI, nil
}
