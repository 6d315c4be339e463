package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Geolocator resolves the device's current position with a single bounded
// request. Implementations must respect ctx cancellation.
type Geolocator interface {
	CurrentPosition(ctx context.Context) (lat, lon float64, err error)
}

var (
	// ErrGeoUnavailable means no geolocation capability is configured.
	ErrGeoUnavailable = errors.New("geolocation unavailable")
	// ErrGeoTimeout means the position request did not complete in time.
	ErrGeoTimeout = errors.New("geolocation timed out")
)

// IPGeolocator looks up an approximate position from the machine's public
// IP via an ip-api compatible endpoint. One-shot, bounded by timeout.
type IPGeolocator struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewIPGeolocator creates an IPGeolocator against the given lookup URL
// (e.g. "http://ip-api.com/json"). timeout bounds each position request.
func NewIPGeolocator(url string, timeout time.Duration) *IPGeolocator {
	return &IPGeolocator{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// CurrentPosition implements Geolocator.
func (g *IPGeolocator) CurrentPosition(ctx context.Context) (float64, float64, error) {
	if g.url == "" {
		return 0, 0, ErrGeoUnavailable
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, g.url, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("build geolocation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return 0, 0, ErrGeoTimeout
		}
		return 0, 0, fmt.Errorf("geolocation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("geolocation lookup: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("read geolocation response: %w", err)
	}

	var parsed ipAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, 0, fmt.Errorf("parse geolocation response: %w", err)
	}
	if parsed.Status != "" && parsed.Status != "success" {
		return 0, 0, fmt.Errorf("geolocation lookup failed: %s", parsed.Message)
	}

	return parsed.Lat, parsed.Lon, nil
}
