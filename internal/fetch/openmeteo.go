package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/agroclim/weather-pipeline/internal/weather"
)

// Request describes one fetch against the weather API: a location, a
// closed date interval, and the record type deciding which endpoint is
// used and whether the cache applies.
type Request struct {
	Location weather.Location
	Range    weather.DateRange
	Type     weather.RecordType
}

// RawDaily carries the API's parallel per-day arrays. Measurement values
// stay as raw JSON tokens so the normalizer can reject non-numeric
// placeholders per day instead of failing the whole decode.
type RawDaily struct {
	Time                     []string          `json:"time"`
	WeatherCode              []json.RawMessage `json:"weather_code"`
	TemperatureMax           []json.RawMessage `json:"temperature_2m_max"`
	TemperatureMin           []json.RawMessage `json:"temperature_2m_min"`
	DaylightDuration         []json.RawMessage `json:"daylight_duration"`
	PrecipitationSum         []json.RawMessage `json:"precipitation_sum"`
	ShortwaveRadiationSum    []json.RawMessage `json:"shortwave_radiation_sum"`
	ET0Evapotranspiration    []json.RawMessage `json:"et0_fao_evapotranspiration"`
	SoilMoistureMean         []json.RawMessage `json:"soil_moisture_0_to_100cm_mean"`
	VapourPressureDeficitMax []json.RawMessage `json:"vapour_pressure_deficit_max"`
}

// Column returns the raw value array for a daily variable name.
func (d *RawDaily) Column(name string) []json.RawMessage {
	switch name {
	case "weather_code":
		return d.WeatherCode
	case "temperature_2m_max":
		return d.TemperatureMax
	case "temperature_2m_min":
		return d.TemperatureMin
	case "daylight_duration":
		return d.DaylightDuration
	case "precipitation_sum":
		return d.PrecipitationSum
	case "shortwave_radiation_sum":
		return d.ShortwaveRadiationSum
	case "et0_fao_evapotranspiration":
		return d.ET0Evapotranspiration
	case "soil_moisture_0_to_100cm_mean":
		return d.SoilMoistureMean
	case "vapour_pressure_deficit_max":
		return d.VapourPressureDeficitMax
	default:
		return nil
	}
}

// RawResponse is the decoded envelope of one Open-Meteo daily response.
type RawResponse struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Daily     RawDaily `json:"daily"`
}

// Client talks to the Open-Meteo archive and forecast endpoints with
// retries, backoff and a circuit breaker per endpoint.
type Client struct {
	archiveURL  string
	forecastURL string
	httpCfg     HTTPClientConfig
	archiveCB   *gobreaker.CircuitBreaker
	forecastCB  *gobreaker.CircuitBreaker
	cache       Cache
}

// NewClient builds a Client. cache may be nil to disable caching; when
// present it is consulted for historical requests only.
func NewClient(httpClient *http.Client, archiveURL, forecastURL string, backoff BackoffConfig, cache Cache) *Client {
	newCB := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     2 * time.Minute,
		})
	}

	return &Client{
		archiveURL:  archiveURL,
		forecastURL: forecastURL,
		httpCfg: HTTPClientConfig{
			Client:  httpClient,
			Backoff: backoff,
		},
		archiveCB:  newCB("openmeteo-archive"),
		forecastCB: newCB("openmeteo-forecast"),
		cache:      cache,
	}
}

// Fetch retrieves the daily data for one request. Historical responses are
// served from and written to the cache; forecast responses never touch it,
// since they depend on wall-clock now.
func (c *Client) Fetch(ctx context.Context, req Request) (*RawResponse, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown record type %q", req.Type)
	}

	endpoint := c.forecastURL
	cb := c.forecastCB
	if req.Type == weather.RecordHistorical {
		endpoint = c.archiveURL
		cb = c.archiveCB
	}

	requestURL := buildURL(endpoint, req)

	cacheable := req.Type == weather.RecordHistorical && c.cache != nil
	if cacheable {
		body, hit, err := c.cache.Get(requestURL)
		if err != nil {
			log.Printf("fetch: cache lookup failed for %s: %v", req.Location.Key(), err)
		} else if hit {
			return decodeResponse(body)
		}
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, cb, func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, requestURL, nil)
	})
	if err != nil {
		return nil, classifyFetchErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	raw, err := decodeResponse(body)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := c.cache.Put(requestURL, body); err != nil {
			log.Printf("fetch: cache store failed for %s: %v", req.Location.Key(), err)
		}
	}
	return raw, nil
}

// buildURL assembles the endpoint URL with the query the original daily
// collection used: coordinates, closed date window, the nine variables.
func buildURL(endpoint string, req Request) string {
	values := url.Values{}
	values.Set("latitude", fmt.Sprintf("%.4f", req.Location.Lat))
	values.Set("longitude", fmt.Sprintf("%.4f", req.Location.Lon))
	values.Set("start_date", req.Range.Start.String())
	values.Set("end_date", req.Range.End.String())
	values.Set("daily", strings.Join(weather.DailyVariables, ","))
	values.Set("timezone", "auto")
	return fmt.Sprintf("%s?%s", endpoint, values.Encode())
}

func decodeResponse(body []byte) (*RawResponse, error) {
	var raw RawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &raw, nil
}

// classifyFetchErr maps transport-level failures onto the FetchError
// taxonomy the rest of the pipeline branches on.
func classifyFetchErr(err error) error {
	var perm *permanentStatusError
	if errors.As(err, &perm) {
		return &weather.FetchError{Reason: weather.FetchHTTP4xx, Status: perm.status, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &weather.FetchError{Reason: weather.FetchTimeout, Err: err}
	}
	// Exhausted retries, open circuit, or transport errors.
	return &weather.FetchError{Reason: weather.FetchExhausted, Err: err}
}
