package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/weatherwave/weatherwave/internal/location"
	"github.com/weatherwave/weatherwave/internal/models"
	"github.com/weatherwave/weatherwave/internal/observability"
)

// Client fetches the four data facets from the WeatherWave backend.
type Client interface {
	CurrentWeather(ctx context.Context, loc location.Input) (models.WeatherSnapshot, error)
	Forecast(ctx context.Context, loc location.Input) ([]models.ForecastDay, error)
	AQI(ctx context.Context, loc location.Input) (models.AqiSnapshot, error)
	PredictCity(ctx context.Context, city string) (models.PredictionSnapshot, error)
}

var (
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
)

// BackendClient talks to the dashboard backend REST API.
type BackendClient struct {
	baseURL        string
	authToken      string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// NewBackendClient creates a client with default retry settings.
func NewBackendClient(baseURL, authToken string, timeout time.Duration) (*BackendClient, error) {
	return NewBackendClientWithRetry(baseURL, authToken, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

// NewBackendClientWithRetry creates a client with explicit retry settings.
// authToken may be empty; when set it is attached as a bearer credential.
func NewBackendClientWithRetry(baseURL, authToken string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*BackendClient, error) {
	if baseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base URL: %w", err)
	}
	return &BackendClient{
		baseURL:        baseURL,
		authToken:      authToken,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type forecastResponse struct {
	Forecast []struct {
		Date    string `json:"date"`
		Weather struct {
			AvgTemp     float64 `json:"avg_temp"`
			MinTemp     float64 `json:"min_temp"`
			MaxTemp     float64 `json:"max_temp"`
			Description string  `json:"description"`
		} `json:"Weather"`
	} `json:"forecast"`
}

// CurrentWeather fetches current conditions for loc.
func (c *BackendClient) CurrentWeather(ctx context.Context, loc location.Input) (models.WeatherSnapshot, error) {
	var snap models.WeatherSnapshot
	err := c.getFacet(ctx, "weather", "/current-weather/", loc, &snap)
	if err != nil {
		return models.WeatherSnapshot{}, err
	}
	return snap, nil
}

// Forecast fetches the daily forecast sequence for loc. The backend
// nominally returns 5 days; shorter sequences are passed through.
func (c *BackendClient) Forecast(ctx context.Context, loc location.Input) ([]models.ForecastDay, error) {
	var resp forecastResponse
	if err := c.getFacet(ctx, "forecast", "/forecast/", loc, &resp); err != nil {
		return nil, err
	}
	days := make([]models.ForecastDay, 0, len(resp.Forecast))
	for _, d := range resp.Forecast {
		days = append(days, models.ForecastDay{
			Date:        d.Date,
			MinTemp:     d.Weather.MinTemp,
			AvgTemp:     d.Weather.AvgTemp,
			MaxTemp:     d.Weather.MaxTemp,
			Description: d.Weather.Description,
		})
	}
	return days, nil
}

// AQI fetches the air-quality reading for loc. A null AQI_Value from the
// provider is returned as-is: unavailable data, not an error.
func (c *BackendClient) AQI(ctx context.Context, loc location.Input) (models.AqiSnapshot, error) {
	var snap models.AqiSnapshot
	if err := c.getFacet(ctx, "aqi", "/aqi/", loc, &snap); err != nil {
		return models.AqiSnapshot{}, err
	}
	return snap, nil
}

// PredictCity fetches the ML next-day temperature prediction for city.
func (c *BackendClient) PredictCity(ctx context.Context, city string) (models.PredictionSnapshot, error) {
	var snap models.PredictionSnapshot
	body, err := json.Marshal(map[string]string{"city": city})
	if err != nil {
		return models.PredictionSnapshot{}, fmt.Errorf("encode prediction request: %w", err)
	}
	err = c.doWithRetry(ctx, "prediction", func(reqCtx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/predict-city/", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &snap)
	if err != nil {
		return models.PredictionSnapshot{}, err
	}
	return snap, nil
}

// getFacet issues a GET for one facet with the location encoded as query
// parameters, retrying transient failures.
func (c *BackendClient) getFacet(ctx context.Context, facet, path string, loc location.Input, out interface{}) error {
	return c.doWithRetry(ctx, facet, func(reqCtx context.Context) (*http.Request, error) {
		u, err := url.Parse(c.baseURL + path)
		if err != nil {
			return nil, fmt.Errorf("invalid facet URL: %w", err)
		}
		params := url.Values{}
		switch loc.Kind() {
		case location.KindCity:
			params.Set("city", location.NormalizeCity(loc.CityName()))
		case location.KindCoordinates:
			lat, lon := loc.LatLon()
			params.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
			params.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
		default:
			return nil, errors.New("unresolved location")
		}
		u.RawQuery = params.Encode()
		return http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	}, out)
}

// doWithRetry runs one facet request with exponential backoff on transient
// failures. Non-retryable errors (auth, not found) return immediately.
func (c *BackendClient) doWithRetry(ctx context.Context, facet string, build func(context.Context) (*http.Request, error), out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.FacetRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.callOnce(ctx, facet, build, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *BackendClient) callOnce(ctx context.Context, facet string, build func(context.Context) (*http.Request, error), out interface{}) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := build(reqCtx)
	if err != nil {
		observability.FacetRequestsTotal.WithLabelValues(facet, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.FacetRequestsTotal.WithLabelValues(facet, "error").Inc()
		observability.FacetRequestDuration.WithLabelValues(facet, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.FacetRequestsTotal.WithLabelValues(facet, status).Inc()
	observability.FacetRequestDuration.WithLabelValues(facet, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return false
}

func (c *BackendClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
