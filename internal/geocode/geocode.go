// Package geocode resolves coordinates into human-readable addresses for
// trip start and end locations. Geocoding is best-effort: every failure
// falls back to a "lat, lon" formatted string, never an error, because the
// tracker must not stall on a lookup.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Geocoder resolves a coordinate pair into an address string.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) string
}

// Coordinates formats a position as the universal fallback address.
func Coordinates(lat, lon float64) string {
	return fmt.Sprintf("%.4f, %.4f", lat, lon)
}

// Static is a Geocoder that always returns the coordinate fallback.
// Used in offline installs and tests.
type Static struct{}

func (Static) ReverseGeocode(_ context.Context, lat, lon float64) string {
	return Coordinates(lat, lon)
}

// HTTPGeocoder queries a Nominatim-style /reverse endpoint. Lookups are
// bounded by a short timeout so a slow geocoding service can only delay, not
// block, trip finalization.
type HTTPGeocoder struct {
	baseURL string
	client  *http.Client
	log     *slog.Logger
}

// NewHTTP constructs an HTTPGeocoder for the given base URL.
func NewHTTP(baseURL string, log *slog.Logger) *HTTPGeocoder {
	return &HTTPGeocoder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log,
	}
}

// ReverseGeocode resolves lat/lon to a display address. Any failure — bad
// status, malformed body, timeout — is logged at debug and degrades to the
// coordinate fallback.
func (g *HTTPGeocoder) ReverseGeocode(ctx context.Context, lat, lon float64) string {
	u := fmt.Sprintf("%s/reverse?format=jsonv2&lat=%s&lon=%s",
		g.baseURL,
		url.QueryEscape(fmt.Sprintf("%f", lat)),
		url.QueryEscape(fmt.Sprintf("%f", lon)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Coordinates(lat, lon)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Debug("reverse geocode failed", "error", err)
		return Coordinates(lat, lon)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		g.log.Debug("reverse geocode failed", "status", resp.StatusCode)
		return Coordinates(lat, lon)
	}

	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.DisplayName == "" {
		g.log.Debug("reverse geocode returned no address", "error", err)
		return Coordinates(lat, lon)
	}
	return body.DisplayName
}
