package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/weatherwave/weatherwave/internal/cache"
	"github.com/weatherwave/weatherwave/internal/location"
	"github.com/weatherwave/weatherwave/internal/models"
	"github.com/weatherwave/weatherwave/internal/netstate"
	"github.com/weatherwave/weatherwave/internal/resolver"
	"github.com/weatherwave/weatherwave/internal/store"
)

const maxLocationLength = 100

// Handler holds dependencies for the daemon's HTTP surface.
type Handler struct {
	resolver *resolver.Resolver
	cache    *cache.Cache
	signal   netstate.Signal
	logger   *zap.Logger
	// StorePing, when set, is called by the health handler to check the
	// persistence backend.
	StorePing func() error
}

// NewHandler returns a new Handler.
func NewHandler(res *resolver.Resolver, c *cache.Cache, signal netstate.Signal, logger *zap.Logger) *Handler {
	return &Handler{
		resolver: res,
		cache:    c,
		signal:   signal,
		logger:   logger,
	}
}

// GetBundle handles GET /bundle/{location}. The location path segment is a
// city name, or "lat,lon", or "auto" for geolocation. The streamed
// resolution is collapsed to its final settled state for the HTTP caller;
// the X-Weatherwave-Source header carries live/cache/offline provenance.
func (h *Handler) GetBundle(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(mux.Vars(r)["location"])
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", "location is required")
		return
	}
	if len(raw) > maxLocationLength {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", "location too long")
		return
	}

	loc, err := parseLocation(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	sub := h.resolver.Resolve(r.Context(), loc)
	defer sub.Cancel()

	var last models.Update
	got := false
	for u := range sub.Updates() {
		last = u
		got = true
	}
	if !got {
		// Superseded or cancelled before anything settled.
		writeError(w, r, http.StatusServiceUnavailable, "CANCELLED", "resolution cancelled")
		return
	}

	w.Header().Set("X-Weatherwave-Source", sourceLabel(last.Status))
	status := http.StatusOK
	if last.Status.Error != "" && last.Bundle.Empty() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, last)
}

func sourceLabel(s models.ResolveStatus) string {
	switch {
	case s.IsOffline && s.IsFromCache:
		return "offline"
	case s.IsFromCache:
		return "cache"
	case s.Error != "":
		return "error"
	default:
		return "live"
	}
}

// parseLocation maps a path segment to a location input: "auto" asks for
// geolocation, "lat,lon" selects coordinates, anything else is a city.
func parseLocation(raw string) (location.Input, error) {
	if strings.EqualFold(raw, "auto") {
		return location.Unresolved(), nil
	}
	if i := strings.IndexByte(raw, ','); i > 0 {
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(raw[:i]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(raw[i+1:]), 64)
		if latErr == nil && lonErr == nil {
			if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
				return location.Input{}, errInvalidCoordinates
			}
			return location.Coordinates(lat, lon), nil
		}
	}
	return location.City(raw), nil
}

var errInvalidCoordinates = errors.New("coordinates out of range")

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	statusCode := http.StatusOK

	if h.signal.Online() {
		checks["backend"] = "reachable"
	} else {
		checks["backend"] = "unreachable"
		status = "degraded"
	}
	if h.StorePing != nil {
		if h.StorePing() == nil {
			checks["store"] = "healthy"
		} else {
			checks["store"] = "unhealthy"
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
	}

	resp := map[string]interface{}{
		"status":    status,
		"service":   "weatherwave",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, statusCode, resp)
}

// GetCacheInfo handles GET /cache.
func (h *Handler) GetCacheInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.cache.Stat(r.Context())
	if err != nil {
		writeCacheError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// ClearCache handles DELETE /cache.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cache.Clear(r.Context())
	if err != nil {
		writeCacheError(w, r, err)
		return
	}
	h.logger.Info("cache cleared", zap.Int("removed", removed))
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// writeCacheError distinguishes a backend that cannot enumerate (memcached)
// from a genuine failure, so the caller never mistakes it for an empty
// cache.
func writeCacheError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrEnumerationUnsupported) {
		writeError(w, r, http.StatusNotImplemented, "UNSUPPORTED_BACKEND",
			"cache enumeration not supported by this backend")
		return
	}
	writeError(w, r, http.StatusInternalServerError, "CACHE_ERROR", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		if s, ok := v.(string); ok {
			corrID = s
		}
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
