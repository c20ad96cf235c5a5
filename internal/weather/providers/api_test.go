package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-publisher/internal/retry"
	"github.com/i474232898/weather-publisher/internal/weather"
)

func newTestSource(t *testing.T, handler http.HandlerFunc) *APISource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAPISource(&http.Client{Timeout: 2 * time.Second}, srv.URL+"/api/weather/")
}

func TestAPISource_ListLocations(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/weather/locations", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"latitude": 10, "longitude": 20}, {"latitude": 1}, 42, {"latitude": 0, "longitude": -3.5}]`))
	})

	locs, err := src.ListLocations(context.Background())

	require.NoError(t, err)
	require.Len(t, locs, 4)
	assert.Equal(t, weather.NewLocation(10, 20), locs[0])
	assert.ErrorIs(t, locs[1].Validate(), weather.ErrInvalidLocation)
	assert.ErrorIs(t, locs[2].Validate(), weather.ErrInvalidLocation)
	assert.Equal(t, weather.NewLocation(0, -3.5), locs[3])
}

func TestAPISource_ListLocationsNotAList(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"locations": []}`))
	})

	_, err := src.ListLocations(context.Background())

	assert.ErrorIs(t, err, ErrNotAList)
	assert.True(t, retry.IsPermanent(err))
}

func TestAPISource_ListLocationsMalformedIsRetriable(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"latitude": 1`))
	})

	_, err := src.ListLocations(context.Background())

	assert.ErrorIs(t, err, ErrInvalidJSON)
	assert.False(t, retry.IsPermanent(err))
}

func TestAPISource_GetWeather(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/weather", r.URL.Path)
		assert.Equal(t, "10.25", r.URL.Query().Get("lat"))
		assert.Equal(t, "-20", r.URL.Query().Get("lon"))
		_, _ = w.Write([]byte(`{"temp": 5}`))
	})

	doc, err := src.GetWeather(context.Background(), 10.25, -20)

	require.NoError(t, err)
	assert.JSONEq(t, `{"temp": 5}`, string(doc))
}

func TestAPISource_Non2xxIsError(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad params", http.StatusBadRequest)
	})

	_, err := src.GetWeather(context.Background(), 1, 2)

	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "400")
	assert.False(t, retry.IsPermanent(err))
}

func TestAPISource_InvalidWeatherBody(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := src.GetWeather(context.Background(), 1, 2)

	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestAPISource_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	var err error
	for i := 0; i < 7; i++ {
		_, err = src.GetWeather(context.Background(), 1, 2)
	}

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.EqualValues(t, 6, calls.Load())
}

func TestAPISource_OpenTimeoutFollowsRetrySchedule(t *testing.T) {
	src := NewAPISource(http.DefaultClient, "http://localhost")
	assert.Equal(t, DefaultOpenTimeout, src.openTimeout)

	src = NewAPISource(http.DefaultClient, "http://localhost", WithRetrySchedule(retry.DefaultSchedule))
	assert.Equal(t, DefaultOpenTimeout, src.openTimeout)

	src = NewAPISource(http.DefaultClient, "http://localhost", WithRetrySchedule(retry.Schedule{5 * time.Second, 10 * time.Second, time.Hour}))
	assert.Equal(t, 5*time.Second, src.openTimeout)

	src = NewAPISource(http.DefaultClient, "http://localhost", WithRetrySchedule(retry.Schedule{0, 0}))
	assert.Equal(t, minOpenTimeout, src.openTimeout)
}

func TestAPISource_RetryAfterShortWaitReachesUpstream(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 6 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"temp": 5}`))
	}))
	t.Cleanup(srv.Close)

	schedule := retry.Schedule{20 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond}
	src := NewAPISource(&http.Client{Timeout: 2 * time.Second}, srv.URL, WithRetrySchedule(schedule))

	for i := 0; i < 6; i++ {
		_, err := src.GetWeather(context.Background(), 1, 2)
		require.ErrorIs(t, err, ErrUnexpectedStatus)
	}
	_, err := src.GetWeather(context.Background(), 1, 2)
	require.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(schedule[0] + 20*time.Millisecond)

	doc, err := src.GetWeather(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"temp": 5}`, string(doc))
	assert.EqualValues(t, 7, calls.Load())
}

func TestAPISource_OversizedBodyIsReported(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"` + strings.Repeat("a", maxBodyBytes) + `"`))
	})

	_, err := src.GetWeather(context.Background(), 1, 2)

	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.NotErrorIs(t, err, ErrInvalidJSON)
}

func TestAPISource_BodyAtLimitIsAccepted(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"` + strings.Repeat("a", maxBodyBytes-2) + `"`))
	})

	doc, err := src.GetWeather(context.Background(), 1, 2)

	require.NoError(t, err)
	assert.Len(t, doc, maxBodyBytes)
}
