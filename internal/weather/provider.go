package weather

import (
	"context"
	"encoding/json"
)

// Source abstracts the upstream weather API.
type Source interface {
	// ListLocations returns every location to process, in upstream order.
	ListLocations(ctx context.Context) ([]Location, error)
	// GetWeather returns the current weather document for a coordinate.
	GetWeather(ctx context.Context, latitude, longitude float64) (json.RawMessage, error)
}

// Publisher publishes one message to a named queue, once.
type Publisher interface {
	Publish(ctx context.Context, queueName string, message any) error
}

// DeadLetterRouter is the terminal fallback for a unit of work.
type DeadLetterRouter interface {
	Route(ctx context.Context, payload any, reason string, cause error) error
}

// Metrics receives per-location and per-pass outcomes.
type Metrics interface {
	LocationProcessed(outcome string)
	RunCompleted(aborted bool)
}

type noopMetrics struct{}

func (noopMetrics) LocationProcessed(string) {}
func (noopMetrics) RunCompleted(bool)        {}
