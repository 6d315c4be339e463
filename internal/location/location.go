package location

import (
	"fmt"
	"strings"
)

// Kind discriminates the LocationInput union.
type Kind int

const (
	KindUnresolved Kind = iota
	KindCity
	KindCoordinates
)

// UnresolvedKey is the sentinel cache key for an input that has not been
// resolved to a city or coordinates yet. It must never be used to address
// a persisted entry.
const UnresolvedKey = "__unresolved__"

// Input is a location selector: a free-text city name, a coordinate pair,
// or unresolved (caller wants device/IP geolocation).
type Input struct {
	kind Kind
	city string
	lat  float64
	lon  float64
}

// City returns an Input selecting by city name.
func City(name string) Input {
	return Input{kind: KindCity, city: name}
}

// Coordinates returns an Input selecting by latitude/longitude.
func Coordinates(lat, lon float64) Input {
	return Input{kind: KindCoordinates, lat: lat, lon: lon}
}

// Unresolved returns an Input with no location; the resolver will attempt
// geolocation.
func Unresolved() Input {
	return Input{kind: KindUnresolved}
}

// Kind returns the union tag.
func (in Input) Kind() Kind { return in.kind }

// CityName returns the city name for a KindCity input.
func (in Input) CityName() string { return in.city }

// LatLon returns the coordinate pair for a KindCoordinates input.
func (in Input) LatLon() (lat, lon float64) { return in.lat, in.lon }

// Key derives the normalized cache key for the input. The same logical
// location always yields the same key: city names are trimmed and
// lowercased, coordinates are formatted at 4 decimal places (~11m of
// precision, enough to treat repeated fixes as the same place).
func (in Input) Key() string {
	switch in.kind {
	case KindCity:
		return NormalizeCity(in.city)
	case KindCoordinates:
		return fmt.Sprintf("%.4f,%.4f", in.lat, in.lon)
	default:
		return UnresolvedKey
	}
}

// NormalizeCity normalizes a city name for use as a cache key and query
// parameter, regardless of input casing or padding.
func NormalizeCity(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
