package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/weatherwave/weatherwave/internal/location"
)

func newTestClient(t *testing.T, handler http.Handler) (*BackendClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	// Single attempt keeps failure tests fast and deterministic.
	c, err := NewBackendClientWithRetry(srv.URL, "", 2*time.Second, 1, time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("NewBackendClientWithRetry() error = %v", err)
	}
	return c, srv
}

// TestCurrentWeather_ByCity verifies the weather facet request shape and
// response mapping for a city query.
func TestCurrentWeather_ByCity(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/current-weather/" {
			t.Errorf("path = %q, want /current-weather/", r.URL.Path)
		}
		if got := r.URL.Query().Get("city"); got != "kathmandu" {
			t.Errorf("city param = %q, want %q", got, "kathmandu")
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"city": "Kathmandu", "temp": 22.0, "humidity": 65,
			"wind_speed": 3.2, "description": "Partly Cloudy",
		})
	}))

	got, err := c.CurrentWeather(context.Background(), location.City(" Kathmandu "))
	if err != nil {
		t.Fatalf("CurrentWeather() error = %v", err)
	}
	if got.City != "Kathmandu" || got.Temperature != 22 || got.Humidity != 65 {
		t.Errorf("CurrentWeather() = %+v", got)
	}
}

// TestCurrentWeather_ByCoordinates verifies lat/lon query parameters.
func TestCurrentWeather_ByCoordinates(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("lat") != "27.7172" || q.Get("lon") != "85.3240" {
			t.Errorf("query = %v, want lat=27.7172 lon=85.3240", q)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"city": "Kathmandu", "temp": 20.0})
	}))

	got, err := c.CurrentWeather(context.Background(), location.Coordinates(27.7172, 85.3240))
	if err != nil {
		t.Fatalf("CurrentWeather() error = %v", err)
	}
	if got.City != "Kathmandu" {
		t.Errorf("City = %q, want Kathmandu", got.City)
	}
}

// TestForecast_Mapping verifies the nested forecast response is flattened
// into ordered ForecastDay values.
func TestForecast_Mapping(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"forecast":[
			{"date":"2026-08-28","Weather":{"avg_temp":21,"min_temp":18,"max_temp":25,"description":"Sunny"}},
			{"date":"2026-08-29","Weather":{"avg_temp":20,"min_temp":17,"max_temp":24,"description":"Rain"}}
		]}`))
	}))

	days, err := c.Forecast(context.Background(), location.City("kathmandu"))
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("len(days) = %d, want 2", len(days))
	}
	if days[0].Date != "2026-08-28" || days[0].AvgTemp != 21 || days[0].Description != "Sunny" {
		t.Errorf("days[0] = %+v", days[0])
	}
	if days[1].MinTemp != 17 || days[1].MaxTemp != 24 {
		t.Errorf("days[1] = %+v", days[1])
	}
}

// TestAQI_NullValue verifies that a null AQI_Value is a legitimate
// unavailable state, not an error.
func TestAQI_NullValue(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"AQI_Value":null}`))
	}))

	got, err := c.AQI(context.Background(), location.City("jumla"))
	if err != nil {
		t.Fatalf("AQI() error = %v", err)
	}
	if got.Value != nil {
		t.Errorf("AQI().Value = %v, want nil", *got.Value)
	}
}

// TestPredictCity verifies the POST body and response mapping of the
// prediction facet.
func TestPredictCity(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict-city/" {
			t.Errorf("request = %s %s, want POST /predict-city/", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["city"] != "Kathmandu" {
			t.Errorf("body city = %q, want Kathmandu", body["city"])
		}
		_ = json.NewEncoder(w).Encode(map[string]float64{"predicted_temp": 21.5, "confidence": 78})
	}))

	got, err := c.PredictCity(context.Background(), "Kathmandu")
	if err != nil {
		t.Fatalf("PredictCity() error = %v", err)
	}
	if got.PredictedTemp != 21.5 || got.Confidence != 78 {
		t.Errorf("PredictCity() = %+v", got)
	}
}

// TestErrorMapping verifies status codes map to the error taxonomy.
func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: ErrLocationNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: ErrUnauthorized},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: ErrRateLimited},
		{name: "server error", status: http.StatusInternalServerError, wantErr: ErrUpstreamFailure},
		{name: "bad gateway", status: http.StatusBadGateway, wantErr: ErrUpstreamFailure},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			_, err := c.CurrentWeather(context.Background(), location.City("x"))
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("CurrentWeather() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

// TestAuthTokenAttached verifies the bearer credential is sent when
// configured.
func TestAuthTokenAttached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer sekrit")
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"city": "Kathmandu"})
	}))
	defer srv.Close()

	c, err := NewBackendClientWithRetry(srv.URL, "sekrit", time.Second, 1, time.Millisecond, time.Millisecond)
	if err != nil {
		t.Fatalf("NewBackendClientWithRetry() error = %v", err)
	}
	if _, err := c.CurrentWeather(context.Background(), location.City("kathmandu")); err != nil {
		t.Fatalf("CurrentWeather() error = %v", err)
	}
}

// TestRetry_TransientUpstream verifies a 500 is retried and a subsequent
// success wins.
func TestRetry_TransientUpstream(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"city": "Kathmandu", "temp": 22.0})
	}))
	defer srv.Close()

	c, err := NewBackendClientWithRetry(srv.URL, "", time.Second, 3, time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("NewBackendClientWithRetry() error = %v", err)
	}
	got, err := c.CurrentWeather(context.Background(), location.City("kathmandu"))
	if err != nil {
		t.Fatalf("CurrentWeather() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
	if got.City != "Kathmandu" {
		t.Errorf("City = %q, want Kathmandu", got.City)
	}
}

// TestUnresolvedLocationRejected verifies facet requests refuse an
// unresolved location before touching the network.
func TestUnresolvedLocationRejected(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be issued for an unresolved location")
	}))
	if _, err := c.CurrentWeather(context.Background(), location.Unresolved()); err == nil {
		t.Fatal("CurrentWeather() error = nil, want error")
	}
}
