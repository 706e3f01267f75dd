// Package weather supplies rain probability and air quality for a
// subscriber's location from the Open-Meteo APIs (no API key needed).
//
// The provider is best effort: transport or decode failures degrade to
// absent values and are logged, never returned.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sigaire/pushalerts/internal/domain"
)

const (
	rainWindowHours = 12
	hourLayout      = "2006-01-02T15:04"
)

// Provider is what the dispatcher consumes.
type Provider interface {
	Conditions(ctx context.Context, loc domain.Location) domain.Conditions
}

type Config struct {
	ForecastURL       string
	AirQualityURL     string
	GeocodeURL        string
	Language          string
	Timeout           time.Duration
	RequestsPerMinute int
	CacheTTL          time.Duration
	// RetryAttempts counts the first try; RetryBackoff is the pause
	// between tries. Only network errors, 429 and 5xx are retried.
	RetryAttempts int
	RetryBackoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		ForecastURL:       "https://api.open-meteo.com/v1/forecast",
		AirQualityURL:     "https://air-quality-api.open-meteo.com/v1/air-quality",
		GeocodeURL:        "https://geocoding-api.open-meteo.com/v1/search",
		Language:          "es",
		Timeout:           10 * time.Second,
		RequestsPerMinute: 600,
		CacheTTL:          10 * time.Minute,
		RetryAttempts:     2,
		RetryBackoff:      300 * time.Millisecond,
	}
}

type OpenMeteo struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	cache   *cache
	log     *zap.Logger
	now     func() time.Time
}

func NewOpenMeteo(cfg Config, log *zap.Logger) *OpenMeteo {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	return &OpenMeteo{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 4),
		cache:   newCache(cfg.CacheTTL),
		log:     log,
		now:     time.Now,
	}
}

// WithClock swaps the time source used to pick forecast hours.
func (o *OpenMeteo) WithClock(now func() time.Time) *OpenMeteo {
	o.now = now
	o.cache.now = now
	return o
}

// Conditions resolves coordinates (geocoding the city when needed) and
// fetches rain probability and AQI in parallel.
func (o *OpenMeteo) Conditions(ctx context.Context, loc domain.Location) domain.Conditions {
	key := cacheKey(loc)
	if c, ok := o.cache.get(key); ok {
		return c
	}

	lat, lon := 0.0, 0.0
	switch {
	case loc.HasCoords():
		lat, lon = *loc.Lat, *loc.Lon
	case loc.City != "":
		var found bool
		var err error
		lat, lon, found, err = o.geocode(ctx, loc.City)
		if err != nil {
			o.log.Warn("geocode_failed", zap.String("city", loc.City), zap.Error(err))
			return domain.Conditions{}
		}
		if !found {
			o.log.Info("geocode_no_results", zap.String("city", loc.City))
			return domain.Conditions{}
		}
	default:
		return domain.Conditions{}
	}

	now := o.now()
	var (
		wg              sync.WaitGroup
		rain, aqi       *int
		rainErr, aqiErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		rain, rainErr = o.rainProbability(ctx, lat, lon, now)
	}()
	go func() {
		defer wg.Done()
		aqi, aqiErr = o.airQuality(ctx, lat, lon, now)
	}()
	wg.Wait()

	if rainErr != nil {
		o.log.Warn("rain_fetch_failed", zap.Float64("lat", lat), zap.Float64("lon", lon), zap.Error(rainErr))
	}
	if aqiErr != nil {
		o.log.Warn("aqi_fetch_failed", zap.Float64("lat", lat), zap.Float64("lon", lon), zap.Error(aqiErr))
	}

	c := domain.Conditions{RainProbability: rain, AQI: aqi}
	if aqi != nil {
		c.AQICategory = domain.CategoryFor(*aqi)
	}
	if rainErr == nil && aqiErr == nil {
		o.cache.set(key, c)
	}
	return c
}

type geocodeResponse struct {
	Results []struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

func (o *OpenMeteo) geocode(ctx context.Context, city string) (lat, lon float64, found bool, err error) {
	params := url.Values{}
	params.Set("name", city)
	params.Set("count", "1")
	params.Set("language", o.cfg.Language)
	params.Set("format", "json")

	var out geocodeResponse
	if err := o.getJSON(ctx, o.cfg.GeocodeURL, params, &out); err != nil {
		return 0, 0, false, err
	}
	if len(out.Results) == 0 {
		return 0, 0, false, nil
	}
	r := out.Results[0]
	if r.Latitude == 0 || r.Longitude == 0 {
		return 0, 0, false, nil
	}
	return r.Latitude, r.Longitude, true, nil
}

type hourlyResponse struct {
	Hourly struct {
		Time                     []string   `json:"time"`
		PrecipitationProbability []*float64 `json:"precipitation_probability"`
		USAQI                    []*float64 `json:"us_aqi"`
	} `json:"hourly"`
}

func hourlyParams(lat, lon float64, variable string) url.Values {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("hourly", variable)
	params.Set("forecast_days", "2")
	params.Set("timezone", "GMT")
	return params
}

func (o *OpenMeteo) rainProbability(ctx context.Context, lat, lon float64, now time.Time) (*int, error) {
	var out hourlyResponse
	if err := o.getJSON(ctx, o.cfg.ForecastURL, hourlyParams(lat, lon, "precipitation_probability"), &out); err != nil {
		return nil, err
	}
	return MaxRainProbability(out.Hourly.Time, out.Hourly.PrecipitationProbability, now), nil
}

func (o *OpenMeteo) airQuality(ctx context.Context, lat, lon float64, now time.Time) (*int, error) {
	var out hourlyResponse
	if err := o.getJSON(ctx, o.cfg.AirQualityURL, hourlyParams(lat, lon, "us_aqi"), &out); err != nil {
		return nil, err
	}
	return ClosestAQI(out.Hourly.Time, out.Hourly.USAQI, now), nil
}

// MaxRainProbability returns the highest probability among the first 12
// forecast hours at or after now. Missing values count as 0. Nil when no
// such hour exists.
func MaxRainProbability(times []string, probs []*float64, now time.Time) *int {
	if len(times) == 0 || len(probs) == 0 {
		return nil
	}
	seen := 0
	best := 0.0
	for i, raw := range times {
		if seen == rainWindowHours {
			break
		}
		ts, err := time.ParseInLocation(hourLayout, raw, time.UTC)
		if err != nil || ts.Before(now) {
			continue
		}
		seen++
		if i < len(probs) && probs[i] != nil && *probs[i] > best {
			best = *probs[i]
		}
	}
	if seen == 0 {
		return nil
	}
	v := int(math.Round(best))
	return &v
}

// ClosestAQI returns the AQI of the hour nearest to now; ties go to the
// earlier hour.
func ClosestAQI(times []string, values []*float64, now time.Time) *int {
	if len(times) == 0 || len(values) == 0 {
		return nil
	}
	idx := -1
	var best time.Duration
	for i, raw := range times {
		ts, err := time.ParseInLocation(hourLayout, raw, time.UTC)
		if err != nil {
			continue
		}
		d := ts.Sub(now)
		if d < 0 {
			d = -d
		}
		if idx == -1 || d < best {
			idx, best = i, d
		}
	}
	if idx == -1 || idx >= len(values) || values[idx] == nil {
		return nil
	}
	v := int(math.Round(*values[idx]))
	return &v
}

// statusError is a non-200 upstream answer.
type statusError struct {
	url    string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.url, e.status, e.body)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	var de *decodeError
	return !errors.As(err, &de)
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// getJSON retries transient failures with a fixed backoff.
func (o *OpenMeteo) getJSON(ctx context.Context, base string, params url.Values, out any) error {
	var err error
	for i := 0; i < o.cfg.RetryAttempts; i++ {
		err = o.fetchOnce(ctx, base, params, out)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			return err
		}
		if i < o.cfg.RetryAttempts-1 {
			o.log.Debug("weather_retry", zap.String("url", base), zap.Int("attempt", i+1), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.RetryBackoff):
			}
		}
	}
	return fmt.Errorf("%w (after %d attempts)", err, o.cfg.RetryAttempts)
}

func (o *OpenMeteo) fetchOnce(ctx context.Context, base string, params url.Values, out any) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return &decodeError{err: fmt.Errorf("create request: %w", err)}
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request %s: %w", base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &statusError{url: base, status: resp.StatusCode, body: truncate(body, 200)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
