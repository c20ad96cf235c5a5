package weather

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/weather-publisher/internal/queue"
	"github.com/i474232898/weather-publisher/internal/retry"
)

// Outcome is the terminal state of one location.
type Outcome string

const (
	OutcomePublished       Outcome = "published"
	OutcomeDivertedFetch   Outcome = "diverted_fetch"
	OutcomeDivertedPublish Outcome = "diverted_publish"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeLost            Outcome = "lost"
)

// Outcomes lists every outcome in reporting order.
var Outcomes = []Outcome{
	OutcomePublished,
	OutcomeDivertedFetch,
	OutcomeDivertedPublish,
	OutcomeSkipped,
	OutcomeLost,
}

// Pipeline fetches weather for one location and publishes it, diverting to
// the DLQ when either step runs out of retries.
type Pipeline struct {
	source    Source
	publisher Publisher
	dlq       DeadLetterRouter
	retry     *retry.Executor
	mainQueue string
	logger    logrus.FieldLogger
}

// NewPipeline creates a Pipeline publishing to mainQueue.
func NewPipeline(source Source, publisher Publisher, dlq DeadLetterRouter, executor *retry.Executor, mainQueue string, logger logrus.FieldLogger) *Pipeline {
	return &Pipeline{
		source:    source,
		publisher: publisher,
		dlq:       dlq,
		retry:     executor,
		mainQueue: mainQueue,
		logger:    logger,
	}
}

// Process runs the fetch and publish steps for a coordinate. It returns the
// weather document when it reached the main queue, nil otherwise.
//
// The main queue receives only the weather document while the DLQ receives
// the full Payload envelope.
func (p *Pipeline) Process(ctx context.Context, latitude, longitude float64) (json.RawMessage, Outcome) {
	log := p.logger.WithFields(logrus.Fields{
		"latitude":  latitude,
		"longitude": longitude,
	})

	payload := Payload{Latitude: latitude, Longitude: longitude}

	data, err := retry.Value(ctx, p.retry, "get_weather", func(ctx context.Context) (json.RawMessage, error) {
		return p.source.GetWeather(ctx, latitude, longitude)
	})
	if err != nil {
		log.WithError(err).Error("weather request failed after retries, sending to DLQ")
		return nil, p.divert(ctx, payload, queue.ReasonWeatherFetch, err, OutcomeDivertedFetch)
	}
	payload.Weather = data

	err = p.retry.Do(ctx, "publish", func(ctx context.Context) error {
		return p.publisher.Publish(ctx, p.mainQueue, data)
	})
	if err != nil {
		log.WithError(err).Error("failed to publish weather data after retries, sending to DLQ")
		return nil, p.divert(ctx, payload, queue.ReasonPublish, err, OutcomeDivertedPublish)
	}

	return data, OutcomePublished
}

func (p *Pipeline) divert(ctx context.Context, payload Payload, reason string, cause error, diverted Outcome) Outcome {
	// Work interrupted by shutdown still goes to the DLQ.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := p.dlq.Route(ctx, payload, reason, cause); err != nil {
		return OutcomeLost
	}
	return diverted
}
