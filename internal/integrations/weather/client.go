package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://api.openweathermap.org"
	DefaultLatitude  = 34.7123
	DefaultLongitude = 135.2396
)

// Snapshot is the subset of the provider's current-weather payload the relay uses.
type Snapshot struct {
	Description string
	Temp        float64
}

type currentResponse struct {
	Weather []struct {
		Description *string `json:"description"`
	} `json:"weather"`
	Main *struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
}

// HTTPStatusError captures non-2xx responses from the weather provider.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("weather: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client fetches current conditions for one fixed location.
type Client struct {
	baseURL    string
	apiKey     string
	lat        float64
	lon        float64
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithLocation(lat, lon float64) Option {
	return func(c *Client) {
		c.lat, c.lon = lat, lon
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("weather: api key must not be empty")
	}
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		lat:        DefaultLatitude,
		lon:        DefaultLongitude,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	return c, nil
}

func (c *Client) currentURL() string {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(c.lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(c.lon, 'f', -1, 64))
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	return c.baseURL + "/data/2.5/weather?" + q.Encode()
}

// Fetch issues one GET for the configured coordinates.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.currentURL(), nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("weather: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("weather: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return Snapshot{}, &HTTPStatusError{StatusCode: res.StatusCode, Body: string(buf)}
	}

	var payload currentResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return Snapshot{}, fmt.Errorf("weather: decode response: %w", err)
	}
	return payload.snapshot()
}

// Summary fetches the current weather and renders it as one sentence.
func (c *Client) Summary(ctx context.Context) (string, error) {
	s, err := c.Fetch(ctx)
	if err != nil {
		return "", err
	}
	return Format(s), nil
}

func (r currentResponse) snapshot() (Snapshot, error) {
	if len(r.Weather) == 0 || r.Weather[0].Description == nil {
		return Snapshot{}, errors.New("weather: response missing weather[0].description")
	}
	if r.Main == nil || r.Main.Temp == nil {
		return Snapshot{}, errors.New("weather: response missing main.temp")
	}
	return Snapshot{Description: *r.Weather[0].Description, Temp: *r.Main.Temp}, nil
}

// Format renders the localized one-line summary.
func Format(s Snapshot) string {
	return fmt.Sprintf("現在の天気は%sで、気温は%s度やで。", s.Description, strconv.FormatFloat(s.Temp, 'f', -1, 64))
}
