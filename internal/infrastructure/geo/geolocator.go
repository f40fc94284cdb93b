package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/cache"
	"peerlink/pkg/config"

	"go.uber.org/zap"
)

// StaticGeolocator reports a configured fixed position.
type StaticGeolocator struct {
	Lat, Lng, Accuracy float64
	now                func() time.Time
}

var _ ports.Geolocator = (*StaticGeolocator)(nil)

func NewStaticGeolocator(lat, lng, accuracy float64) *StaticGeolocator {
	return &StaticGeolocator{Lat: lat, Lng: lng, Accuracy: accuracy, now: time.Now}
}

func (g *StaticGeolocator) CurrentPosition(ctx context.Context, opts ports.PositionOptions) (ports.Position, error) {
	if err := ctx.Err(); err != nil {
		return ports.Position{}, &domain.PositionError{Code: domain.PositionTimeout, Message: "Timeout expired"}
	}
	return ports.Position{Lat: g.Lat, Lng: g.Lng, Accuracy: g.Accuracy, Timestamp: g.now()}, nil
}

// ipLookupAccuracy is the radius reported for IP based positions, in meters.
const ipLookupAccuracy = 5000

// HTTPGeolocator resolves a coarse position from the public IP through an
// ip-api.com compatible endpoint. It cannot satisfy high accuracy requests.
type HTTPGeolocator struct {
	url    string
	client *http.Client
	cache  *cache.Cache[ports.Position]
	logger *zap.SugaredLogger
}

var _ ports.Geolocator = (*HTTPGeolocator)(nil)

func NewHTTPGeolocator(url string, client *http.Client, logger *zap.SugaredLogger) *HTTPGeolocator {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPGeolocator{url: url, client: client, logger: logger}
}

// WithCache reuses a successful lookup for ttl. The public IP rarely moves.
func (g *HTTPGeolocator) WithCache(ttl time.Duration) *HTTPGeolocator {
	if ttl > 0 {
		g.cache = cache.New[ports.Position](ttl)
	}
	return g
}

type lookupResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (g *HTTPGeolocator) CurrentPosition(ctx context.Context, opts ports.PositionOptions) (ports.Position, error) {
	if opts.HighAccuracy {
		return ports.Position{}, &domain.PositionError{Code: domain.PositionUnavailable, Message: "High accuracy position unavailable"}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if g.cache != nil {
		return g.cache.GetOrSet(ctx, g.url, g.lookup)
	}
	return g.lookup(ctx)
}

func (g *HTTPGeolocator) lookup(ctx context.Context) (ports.Position, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return ports.Position{}, fmt.Errorf("build lookup request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return ports.Position{}, &domain.PositionError{Code: domain.PositionTimeout, Message: "Timeout expired"}
		}
		g.logger.Warnw("Location lookup failed", "url", g.url, "error", err)
		return ports.Position{}, &domain.PositionError{Code: domain.PositionUnavailable, Message: "Location lookup failed"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ports.Position{}, &domain.PositionError{
			Code:    domain.PositionUnavailable,
			Message: fmt.Sprintf("Location lookup returned %d", resp.StatusCode),
		}
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ports.Position{}, &domain.PositionError{Code: domain.PositionUnavailable, Message: "Invalid location response"}
	}
	if body.Status != "success" {
		msg := body.Message
		if msg == "" {
			msg = "Location lookup failed"
		}
		return ports.Position{}, &domain.PositionError{Code: domain.PositionUnavailable, Message: msg}
	}

	return ports.Position{Lat: body.Lat, Lng: body.Lon, Accuracy: ipLookupAccuracy, Timestamp: time.Now()}, nil
}

// DeniedGeolocator is used when no location source is configured.
type DeniedGeolocator struct{}

func (DeniedGeolocator) CurrentPosition(ctx context.Context, opts ports.PositionOptions) (ports.Position, error) {
	return ports.Position{}, &domain.PositionError{Code: domain.PositionPermissionDenied, Message: "User denied Geolocation"}
}

// FromConfig picks the static position when coordinates are configured,
// else the lookup URL, else denies access.
func FromConfig(cfg *config.Config, logger *zap.SugaredLogger) ports.Geolocator {
	g := cfg.Geolocation
	switch {
	case g.Latitude != nil && g.Longitude != nil:
		return NewStaticGeolocator(*g.Latitude, *g.Longitude, g.Accuracy)
	case g.LookupURL != "":
		return NewHTTPGeolocator(g.LookupURL, &http.Client{Timeout: g.Timeout}, logger).WithCache(g.CacheTTL)
	default:
		return DeniedGeolocator{}
	}
}
