package models

import "time"

// WeatherSnapshot holds current conditions for a location. City is the
// backend-resolved name, which may differ from the query when the lookup
// was by coordinates.
type WeatherSnapshot struct {
	City          string  `json:"city"`
	Temperature   float64 `json:"temp"`
	Humidity      int     `json:"humidity"`
	WindSpeed     float64 `json:"wind_speed"`
	Precipitation float64 `json:"precip,omitempty"`
	Description   string  `json:"description"`
}

// AqiSnapshot holds an air-quality index reading. Value is nil when the
// provider has no data for the location, which is a legitimate state
// rather than an error.
type AqiSnapshot struct {
	Value *int `json:"AQI_Value"`
}

// ForecastDay is one day of the forecast sequence. Day 0 is tomorrow.
type ForecastDay struct {
	Date        string  `json:"date"`
	MinTemp     float64 `json:"min_temp"`
	AvgTemp     float64 `json:"avg_temp"`
	MaxTemp     float64 `json:"max_temp"`
	Description string  `json:"description"`
}

// PredictionSnapshot is the ML-derived next-day temperature for a city.
type PredictionSnapshot struct {
	PredictedTemp float64 `json:"predicted_temp"`
	Confidence    float64 `json:"confidence,omitempty"`
}

// DataBundle aggregates all facets for one location at one point in time.
// A nil facet means that facet was unavailable on the last attempt.
// FetchedAt is the wall-clock time of the last successful write and is
// never advanced by a failed refresh.
type DataBundle struct {
	Weather    *WeatherSnapshot    `json:"weather"`
	Aqi        *AqiSnapshot        `json:"aqi"`
	Forecast   []ForecastDay       `json:"forecast"`
	Prediction *PredictionSnapshot `json:"prediction"`
	FetchedAt  time.Time           `json:"fetched_at"`
}

// Empty reports whether the bundle carries no data at all.
func (b DataBundle) Empty() bool {
	return b.Weather == nil && b.Aqi == nil && len(b.Forecast) == 0 && b.Prediction == nil
}

// ResolveStatus describes the state of a resolution alongside a bundle.
// Loading is true only on intermediate emissions, when cached data is
// shown while a live fetch is still pending; terminal emissions always
// carry loading=false.
type ResolveStatus struct {
	Loading     bool   `json:"loading"`
	IsOffline   bool   `json:"is_offline"`
	IsFromCache bool   `json:"is_from_cache"`
	Error       string `json:"error,omitempty"`
}

// Update is one emission from the resolver: the best bundle known at this
// point plus status metadata for the consumer to render.
type Update struct {
	Bundle DataBundle    `json:"bundle"`
	Status ResolveStatus `json:"status"`
}
