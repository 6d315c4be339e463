package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weatherwave/weatherwave/internal/models"
	"github.com/weatherwave/weatherwave/internal/store"
)

// envelopeVersion is the current persisted-entry format version. Entries
// without a version field are treated as version 0 and still accepted.
const envelopeVersion = 1

// envelope is the wire format of one persisted cache entry. Field names
// match the layout consumers of the store already depend on.
type envelope struct {
	WeatherData    *models.WeatherSnapshot    `json:"weatherData"`
	AqiData        *models.AqiSnapshot        `json:"aqiData"`
	ForecastData   []models.ForecastDay       `json:"forecastData"`
	PredictionData *models.PredictionSnapshot `json:"predictionData"`
	Timestamp      int64                      `json:"timestamp"` // epoch ms
	Version        int                        `json:"version,omitempty"`
}

// Entry is a decoded cache entry: the bundle plus its write time.
type Entry struct {
	Bundle    models.DataBundle
	Timestamp time.Time
}

// Fresh reports whether the entry was written within ttl of now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.Timestamp) < ttl
}

// Cache reads and writes bundle entries in a Store, keyed by location key.
type Cache struct {
	store store.Store
	ttl   time.Duration
}

// New creates a Cache over the given store. ttl is the freshness window:
// entries older than ttl are still readable (for offline fallback) but no
// longer count as fresh.
func New(s store.Store, ttl time.Duration) *Cache {
	return &Cache{store: s, ttl: ttl}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get loads the entry for key. ok is false on a miss. A stored value that
// fails to decode is removed and reported as a miss with the decode error.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Corrupt entry: drop it so the next attempt starts clean.
		_ = c.store.Delete(ctx, key)
		return Entry{}, false, fmt.Errorf("corrupt cache entry %q: %w", key, err)
	}
	return Entry{
		Bundle: models.DataBundle{
			Weather:    env.WeatherData,
			Aqi:        env.AqiData,
			Forecast:   env.ForecastData,
			Prediction: env.PredictionData,
			FetchedAt:  time.UnixMilli(env.Timestamp),
		},
		Timestamp: time.UnixMilli(env.Timestamp),
	}, true, nil
}

// GetFresh loads the entry for key only if it is within the freshness
// window.
func (c *Cache) GetFresh(ctx context.Context, key string) (Entry, bool, error) {
	entry, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	if !entry.Fresh(time.Now(), c.ttl) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put persists bundle under key, stamped with now.
func (c *Cache) Put(ctx context.Context, key string, bundle models.DataBundle) error {
	now := time.Now()
	env := envelope{
		WeatherData:    bundle.Weather,
		AqiData:        bundle.Aqi,
		ForecastData:   bundle.Forecast,
		PredictionData: bundle.Prediction,
		Timestamp:      now.UnixMilli(),
		Version:        envelopeVersion,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode cache entry %q: %w", key, err)
	}
	return c.store.Set(ctx, key, raw)
}

// Info summarizes what the store currently holds.
type Info struct {
	EntryCount int   `json:"entry_count"`
	TotalBytes int64 `json:"total_bytes"`
}

// Stat returns entry count and total stored bytes.
func (c *Cache) Stat(ctx context.Context) (Info, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return Info{}, err
	}
	info := Info{}
	for _, k := range keys {
		raw, ok, err := c.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		info.EntryCount++
		info.TotalBytes += int64(len(raw))
	}
	return info, nil
}

// Clear removes every entry. Returns the number removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
