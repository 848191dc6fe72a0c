// Package places proxies location autocomplete and geocoding to a remote
// places API, falling back to a built-in list of Australian cities when
// the remote call fails.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

const requestTimeout = 5 * time.Second

var ErrNoResults = errors.New("no matching place")

type Prediction struct {
	Description string  `json:"description"`
	PlaceID     string  `json:"place_id"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
}

type AutocompleteResult struct {
	Source      string       `json:"source"`
	Predictions []Prediction `json:"predictions"`
}

type GeocodeResult struct {
	Source    string  `json:"source"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type city struct {
	name     string
	state    string
	lat, lng float64
}

var fallbackCities = []city{
	{"Sydney", "NSW", -33.8688, 151.2093},
	{"Melbourne", "VIC", -37.8136, 144.9631},
	{"Brisbane", "QLD", -27.4698, 153.0251},
	{"Perth", "WA", -31.9505, 115.8605},
	{"Adelaide", "SA", -34.9285, 138.6007},
	{"Gold Coast", "QLD", -28.0167, 153.4000},
	{"Canberra", "ACT", -35.2809, 149.1300},
	{"Newcastle", "NSW", -32.9283, 151.7817},
	{"Hobart", "TAS", -42.8821, 147.3272},
	{"Darwin", "NT", -12.4634, 130.8456},
}

func (c city) description() string { return c.name + " " + c.state + ", Australia" }

type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient returns a client with a short request timeout. An empty
// baseURL means every call is answered from the fallback list.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: requestTimeout},
		Logger:     logger,
	}
}

type remoteAutocomplete struct {
	Predictions []struct {
		Description string `json:"description"`
		PlaceID     string `json:"place_id"`
	} `json:"predictions"`
}

type remoteGeocode struct {
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

func (c *Client) Autocomplete(ctx context.Context, input string) *AutocompleteResult {
	input = strings.TrimSpace(input)
	var remote remoteAutocomplete
	if err := c.get(ctx, "autocomplete", url.Values{"input": {input}}, &remote); err != nil {
		c.Logger.Warn("places autocomplete failed, using fallback", "input", input, "error", err)
		return fallbackAutocomplete(input)
	}
	out := &AutocompleteResult{Source: SourceRemote, Predictions: make([]Prediction, 0, len(remote.Predictions))}
	for _, p := range remote.Predictions {
		out.Predictions = append(out.Predictions, Prediction{Description: p.Description, PlaceID: p.PlaceID})
	}
	return out
}

func (c *Client) Geocode(ctx context.Context, address string) (*GeocodeResult, error) {
	address = strings.TrimSpace(address)
	var remote remoteGeocode
	err := c.get(ctx, "geocode", url.Values{"address": {address}}, &remote)
	if err == nil && len(remote.Results) == 0 {
		err = ErrNoResults
	}
	if err != nil {
		c.Logger.Warn("places geocode failed, using fallback", "address", address, "error", err)
		return fallbackGeocode(address)
	}
	r := remote.Results[0]
	return &GeocodeResult{
		Source:    SourceRemote,
		Address:   r.FormattedAddress,
		Latitude:  r.Geometry.Location.Lat,
		Longitude: r.Geometry.Location.Lng,
	}, nil
}

func (c *Client) get(ctx context.Context, action string, q url.Values, out any) error {
	if c.BaseURL == "" {
		return errors.New("places api not configured")
	}
	if c.APIKey != "" {
		q.Set("key", c.APIKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/"+action+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("places %s: status %d", action, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode places %s: %w", action, err)
	}
	return nil
}

func fallbackAutocomplete(input string) *AutocompleteResult {
	needle := strings.ToLower(input)
	out := &AutocompleteResult{Source: SourceFallback, Predictions: []Prediction{}}
	for _, c := range fallbackCities {
		if strings.HasPrefix(strings.ToLower(c.name), needle) {
			out.Predictions = append(out.Predictions, Prediction{
				Description: c.description(),
				PlaceID:     "fallback:" + strings.ToLower(strings.ReplaceAll(c.name, " ", "-")),
				Latitude:    c.lat,
				Longitude:   c.lng,
			})
		}
	}
	return out
}

func fallbackGeocode(address string) (*GeocodeResult, error) {
	lower := strings.ToLower(address)
	for _, c := range fallbackCities {
		if strings.Contains(lower, strings.ToLower(c.name)) {
			return &GeocodeResult{Source: SourceFallback, Address: c.description(), Latitude: c.lat, Longitude: c.lng}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoResults, address)
}
