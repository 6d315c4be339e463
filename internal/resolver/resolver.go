package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weatherwave/weatherwave/internal/api"
	"github.com/weatherwave/weatherwave/internal/cache"
	"github.com/weatherwave/weatherwave/internal/location"
	"github.com/weatherwave/weatherwave/internal/models"
	"github.com/weatherwave/weatherwave/internal/netstate"
	"github.com/weatherwave/weatherwave/internal/observability"
)

// Resolver produces the best available DataBundle for a location: fresh
// network data when possible, cached data as fallback, with explicit
// status metadata so consumers can render live/cached/offline states.
//
// A Resolver is shared: it is safe for any number of concurrent
// resolutions. Supersede-on-new-location is scoped to a Session, so
// unrelated consumers never cancel each other.
type Resolver struct {
	client     api.Client
	cache      *cache.Cache
	signal     netstate.Signal
	recorder   netstate.OutcomeRecorder // optional
	geo        location.Geolocator      // optional
	geoTimeout time.Duration
	logger     *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithGeolocator installs the geolocation capability used for unresolved
// inputs. timeout bounds the one-shot position request.
func WithGeolocator(g location.Geolocator, timeout time.Duration) Option {
	return func(r *Resolver) {
		r.geo = g
		r.geoTimeout = timeout
	}
}

// WithOutcomeRecorder folds facet outcomes into the reachability signal.
func WithOutcomeRecorder(rec netstate.OutcomeRecorder) Option {
	return func(r *Resolver) { r.recorder = rec }
}

// New creates a Resolver.
func New(client api.Client, c *cache.Cache, signal netstate.Signal, logger *zap.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		client:     client,
		cache:      c,
		signal:     signal,
		geoTimeout: 10 * time.Second,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Session is one consumer's resolution chain. A new Resolve call on a
// session supersedes the previous one: outstanding requests are cancelled
// and late results from the abandoned generation are discarded. Distinct
// sessions resolve independently.
type Session struct {
	r *Resolver

	mu         sync.Mutex
	generation uint64
	cancelPrev context.CancelFunc
}

// NewSession creates an independent resolution chain for one consumer.
func (r *Resolver) NewSession() *Session {
	return &Session{r: r}
}

// Subscription is a cancelable stream of resolution updates. Updates
// yields at most a few emissions (immediate cache hit, then the settled
// result) and is closed when the resolution terminates or is superseded.
type Subscription struct {
	updates chan models.Update
	cancel  context.CancelFunc
}

// Updates returns the update stream.
func (s *Subscription) Updates() <-chan models.Update { return s.updates }

// Cancel aborts the resolution. Idempotent.
func (s *Subscription) Cancel() { s.cancel() }

// Resolve runs a one-shot resolution on its own session. Use a Session
// directly when later calls should supersede earlier ones.
func (r *Resolver) Resolve(ctx context.Context, loc location.Input) *Subscription {
	return r.NewSession().Resolve(ctx, loc)
}

// Resolve starts resolving loc and returns the update stream. Any
// resolution still in flight from an earlier call on this session is
// cancelled first; its late results are never published.
func (s *Session) Resolve(ctx context.Context, loc location.Input) *Subscription {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.cancelPrev != nil {
		s.cancelPrev()
	}
	s.cancelPrev = cancel
	s.mu.Unlock()

	sub := &Subscription{
		updates: make(chan models.Update, 4),
		cancel:  cancel,
	}
	go s.run(runCtx, gen, loc, sub)
	return sub
}

// current reports whether gen is still the newest resolution on this
// session.
func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.generation
}

// publish emits an update unless this generation has been superseded.
func (s *Session) publish(gen uint64, sub *Subscription, u models.Update) {
	if !s.current(gen) {
		return
	}
	select {
	case sub.updates <- u:
	default:
		// Consumer is not draining; drop rather than block the resolution.
	}
}

func (s *Session) run(ctx context.Context, gen uint64, loc location.Input, sub *Subscription) {
	r := s.r
	defer close(sub.updates)
	defer sub.cancel()

	// Step 1: resolve the location itself if the caller supplied none.
	if loc.Kind() == location.KindUnresolved {
		resolved, err := r.geolocate(ctx)
		if !s.current(gen) {
			return
		}
		if err != nil {
			s.publish(gen, sub, models.Update{Status: models.ResolveStatus{
				IsOffline: !r.signal.Online(),
				Error:     err.Error(),
			}})
			observability.ResolutionsTotal.WithLabelValues("geo_error").Inc()
			return
		}
		loc = resolved
	}
	key := loc.Key()
	logger := r.logger.With(zap.String("key", key))
	online := r.signal.Online()

	// Step 2: best-effort immediate emission from fresh cache. When online
	// the live fetch is still pending, so the cached state is loading.
	servedFresh := false
	if entry, ok, err := r.cache.GetFresh(ctx, key); err != nil {
		logger.Warn("cache read failed", zap.Error(err))
	} else if ok {
		servedFresh = true
		observability.CacheHitsTotal.Inc()
		s.publish(gen, sub, models.Update{
			Bundle: entry.Bundle,
			Status: models.ResolveStatus{
				Loading:     online,
				IsFromCache: true,
				IsOffline:   !online,
			},
		})
	}

	// Step 3: offline short-circuit, no network attempt.
	if !online {
		if servedFresh {
			observability.ResolutionsTotal.WithLabelValues("offline_cache").Inc()
			return
		}
		entry, ok, _ := r.cache.Get(ctx, key)
		if ok {
			observability.StaleServesTotal.Inc()
			observability.ResolutionsTotal.WithLabelValues("offline_cache").Inc()
			s.publish(gen, sub, models.Update{
				Bundle: entry.Bundle,
				Status: models.ResolveStatus{IsFromCache: true, IsOffline: true},
			})
			return
		}
		observability.ResolutionsTotal.WithLabelValues("offline_empty").Inc()
		s.publish(gen, sub, models.Update{Status: models.ResolveStatus{
			IsOffline: true,
			Error:     "no cached data for this location",
		}})
		return
	}

	// Steps 4-6: live fetch with partial-failure tolerance.
	bundle, fetchErr := r.fetchBundle(ctx, loc)
	if !s.current(gen) {
		return
	}

	if fetchErr != nil {
		if r.recorder != nil {
			r.recorder.RecordError()
		}
		if errors.Is(fetchErr, context.Canceled) {
			return
		}
		logger.Warn("live fetch failed", zap.Error(fetchErr))

		entry, ok, _ := r.cache.Get(ctx, key)
		if ok {
			observability.StaleServesTotal.Inc()
			observability.ResolutionsTotal.WithLabelValues("fallback_cache").Inc()
			s.publish(gen, sub, models.Update{
				Bundle: entry.Bundle,
				Status: models.ResolveStatus{
					IsFromCache: true,
					IsOffline:   true,
					Error:       "failed to refresh: " + fetchErr.Error(),
				},
			})
			return
		}
		observability.ResolutionsTotal.WithLabelValues("error").Inc()
		s.publish(gen, sub, models.Update{Status: models.ResolveStatus{
			Error: fetchErr.Error(),
		}})
		return
	}

	if r.recorder != nil {
		r.recorder.RecordSuccess()
	}

	// Step 5: persist, then publish live. The cache write happens before
	// the publish so a reader observing the live bundle can rely on it
	// being addressable.
	if err := r.cache.Put(ctx, key, bundle); err != nil {
		logger.Warn("cache write failed", zap.Error(err))
	}
	observability.ResolutionsTotal.WithLabelValues("live").Inc()
	s.publish(gen, sub, models.Update{
		Bundle: bundle,
		Status: models.ResolveStatus{},
	})
	logger.Debug("resolution settled live",
		zap.Bool("aqi", bundle.Aqi != nil),
		zap.Bool("prediction", bundle.Prediction != nil),
		zap.Int("forecast_days", len(bundle.Forecast)))
}

// geolocate runs the one-shot position request with its own bound.
func (r *Resolver) geolocate(ctx context.Context) (location.Input, error) {
	if r.geo == nil {
		observability.GeolocationTotal.WithLabelValues("unavailable").Inc()
		return location.Input{}, location.ErrGeoUnavailable
	}
	geoCtx, cancel := context.WithTimeout(ctx, r.geoTimeout)
	defer cancel()
	lat, lon, err := r.geo.CurrentPosition(geoCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, location.ErrGeoTimeout) {
			observability.GeolocationTotal.WithLabelValues("timeout").Inc()
			return location.Input{}, location.ErrGeoTimeout
		}
		observability.GeolocationTotal.WithLabelValues("error").Inc()
		return location.Input{}, err
	}
	observability.GeolocationTotal.WithLabelValues("success").Inc()
	return location.Coordinates(lat, lon), nil
}

// fetchBundle fans out the facet requests. Weather and forecast are
// required: either failing fails the whole fetch. AQI is optional and
// degrades to nil. Prediction needs the weather-resolved city, so it runs
// after weather settles and is skipped when weather failed.
func (r *Resolver) fetchBundle(ctx context.Context, loc location.Input) (models.DataBundle, error) {
	var (
		wg          sync.WaitGroup
		weather     models.WeatherSnapshot
		weatherErr  error
		forecast    []models.ForecastDay
		forecastErr error
		aqi         models.AqiSnapshot
		aqiErr      error
		prediction  models.PredictionSnapshot
		predErr     error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		weather, weatherErr = r.client.CurrentWeather(ctx, loc)
		if weatherErr == nil && weather.City != "" {
			prediction, predErr = r.client.PredictCity(ctx, weather.City)
		} else {
			predErr = errors.New("prediction skipped: no resolved city")
		}
	}()
	go func() {
		defer wg.Done()
		forecast, forecastErr = r.client.Forecast(ctx, loc)
	}()
	go func() {
		defer wg.Done()
		aqi, aqiErr = r.client.AQI(ctx, loc)
	}()
	wg.Wait()

	if weatherErr != nil {
		return models.DataBundle{}, weatherErr
	}
	if forecastErr != nil {
		return models.DataBundle{}, forecastErr
	}

	bundle := models.DataBundle{
		Weather:   &weather,
		Forecast:  forecast,
		FetchedAt: time.Now(),
	}
	if aqiErr == nil {
		bundle.Aqi = &aqi
	}
	if predErr == nil {
		bundle.Prediction = &prediction
	}
	return bundle, nil
}
