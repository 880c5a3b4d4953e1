// Package geocode turns member addresses into "lat, long" strings and
// browser geopositions back into addresses.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"googlemaps.github.io/maps"

	"membership-manager/internal/circuitbreaker"
	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/fields"
	"membership-manager/internal/metrics"
)

// Geocoder resolves addresses and coordinates
type Geocoder interface {
	LatLongForAddress(ctx context.Context, components []string) (string, error)
	AddressForLatLong(ctx context.Context, latlong string) (string, error)
}

// Region biases address lookups
const Region = "ca"

// Config holds geocoder settings
type Config struct {
	APIKey string
	// BaseURL overrides the Maps API host
	BaseURL    string
	HTTPClient *http.Client
}

// Client is a Geocoder backed by the Google Maps Geocoding API
type Client struct {
	maps    *maps.Client
	breaker *circuitbreaker.Breaker
	metrics *metrics.Registry
	logger  logging.Logger
}

// New returns a Maps-backed geocoder, or Nop when no API key is set
func New(cfg Config, m *metrics.Registry, logger logging.Logger) (Geocoder, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.WithFields(logging.Field{"component", "geocode"})

	if cfg.APIKey == "" {
		logger.Warn("GOOGLE_MAPS_API_KEY not set; geocoding disabled")
		return Nop{}, nil
	}

	opts := []maps.ClientOption{maps.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, maps.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, maps.WithHTTPClient(cfg.HTTPClient))
	}
	mc, err := maps.NewClient(opts...)
	if err != nil {
		return nil, errors.ConfigError("invalid maps client configuration").WithCause(err)
	}

	return &Client{
		maps:    mc,
		breaker: circuitbreaker.New("geocode", circuitbreaker.HTTPConfig, logger),
		metrics: m,
		logger:  logger,
	}, nil
}

// LatLongForAddress geocodes the non-empty components joined with ", ".
// An address with no results yields "".
func (c *Client) LatLongForAddress(ctx context.Context, components []string) (string, error) {
	address := JoinAddress(components)
	if address == "" {
		return "", nil
	}

	var results []maps.GeocodingResult
	err := c.breaker.Execute(ctx, func() error {
		var err error
		results, err = c.maps.Geocode(ctx, &maps.GeocodingRequest{Address: address, Region: Region})
		return err
	})
	c.metrics.ObserveExternal("geocode", err)
	if err != nil {
		return "", errors.ConnectionError("geocode request failed", err)
	}
	if len(results) == 0 {
		c.logger.Info("No geocode results", logging.Field{"address", address})
		return "", nil
	}

	loc := results[0].Geometry.Location
	return FormatLatLong(loc.Lat, loc.Lng), nil
}

// AddressForLatLong returns the formatted address of the first reverse
// geocoding result, or "" when there is none.
func (c *Client) AddressForLatLong(ctx context.Context, latlong string) (string, error) {
	lat, lng, ok := fields.ParseLatLong(latlong)
	if !ok {
		return "", errors.ValidationError("invalid latlong")
	}

	var results []maps.GeocodingResult
	err := c.breaker.Execute(ctx, func() error {
		var err error
		results, err = c.maps.ReverseGeocode(ctx, &maps.GeocodingRequest{LatLng: &maps.LatLng{Lat: lat, Lng: lng}})
		return err
	})
	c.metrics.ObserveExternal("geocode", err)
	if err != nil {
		return "", errors.ConnectionError("reverse geocode request failed", err)
	}
	if len(results) == 0 {
		return "", nil
	}
	return results[0].FormattedAddress, nil
}

// Nop is used when geocoding is not configured
type Nop struct{}

func (Nop) LatLongForAddress(context.Context, []string) (string, error) { return "", nil }
func (Nop) AddressForLatLong(context.Context, string) (string, error)   { return "", nil }

// JoinAddress drops empty components and joins the rest with ", "
func JoinAddress(components []string) string {
	parts := make([]string, 0, len(components))
	for _, c := range components {
		if c = strings.TrimSpace(c); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, ", ")
}

// FormatLatLong renders coordinates the way the sheets store them
func FormatLatLong(lat, lng float64) string {
	return fmt.Sprintf("%v, %v", lat, lng)
}
