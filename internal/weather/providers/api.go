package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-publisher/internal/retry"
	"github.com/i474232898/weather-publisher/internal/weather"
)

var (
	// ErrNotAList means the location endpoint returned valid JSON that is not
	// an array. It is permanent: retrying will not change the shape.
	ErrNotAList = errors.New("location response is not a list")
	// ErrInvalidJSON means a response body could not be parsed as JSON.
	ErrInvalidJSON = errors.New("response is not valid JSON")
)

// DefaultOpenTimeout is how long the breaker stays open before letting a
// trial request through.
const DefaultOpenTimeout = 30 * time.Second

// minOpenTimeout keeps gobreaker from substituting its own default for zero.
const minOpenTimeout = time.Millisecond

// APISource implements weather.Source over the weather-api HTTP service:
// GET {base}/locations and GET {base}?lat=..&lon=..
type APISource struct {
	baseURL     string
	client      *http.Client
	circuit     *gobreaker.CircuitBreaker
	openTimeout time.Duration
}

var _ weather.Source = (*APISource)(nil)

// Option configures an APISource.
type Option func(*APISource)

// WithRetrySchedule caps the breaker's open state at the shortest wait of the
// schedule that retries calls into the source, so a retried call is never
// rejected by a breaker that opened before the wait began.
func WithRetrySchedule(schedule retry.Schedule) Option {
	return func(s *APISource) {
		if wait, ok := schedule.ShortestWait(); ok && wait < s.openTimeout {
			s.openTimeout = max(wait, minOpenTimeout)
		}
	}
}

func NewAPISource(client *http.Client, baseURL string, opts ...Option) *APISource {
	s := &APISource{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      client,
		openTimeout: DefaultOpenTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.circuit = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weather-api",
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     s.openTimeout,
	})
	return s
}

// ListLocations fetches the location list. Array elements that are not
// objects come back as empty Locations so the caller can skip them.
func (s *APISource) ListLocations(ctx context.Context) ([]weather.Location, error) {
	body, err := doRequest(ctx, s.client, s.circuit, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/locations", nil)
	})
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, retry.Permanent(fmt.Errorf("%w: got %s", ErrNotAList, typeErr.Value))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	locations := make([]weather.Location, len(items))
	for i, item := range items {
		var loc weather.Location
		if err := json.Unmarshal(item, &loc); err != nil {
			continue
		}
		locations[i] = loc
	}
	return locations, nil
}

// GetWeather fetches the current weather document for a coordinate. The body
// is returned verbatim.
func (s *APISource) GetWeather(ctx context.Context, latitude, longitude float64) (json.RawMessage, error) {
	body, err := doRequest(ctx, s.client, s.circuit, func(ctx context.Context) (*http.Request, error) {
		u, err := url.Parse(s.baseURL)
		if err != nil {
			return nil, err
		}
		values := u.Query()
		values.Set("lat", strconv.FormatFloat(latitude, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(longitude, 'f', -1, 64))
		u.RawQuery = values.Encode()

		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	})
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(body), nil
}
