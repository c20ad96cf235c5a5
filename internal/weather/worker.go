package weather

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/weather-publisher/internal/retry"
)

// Summary describes one pass over the location list.
type Summary struct {
	RunID      string          `json:"runId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Received   int             `json:"received"`
	Outcomes   map[Outcome]int `json:"outcomes"`
	// Pending counts locations left unprocessed because the pass was interrupted.
	Pending int    `json:"pending,omitempty"`
	Aborted bool   `json:"aborted"`
	Error   string `json:"error,omitempty"`
}

// Processed returns how many locations reached a terminal outcome.
func (s Summary) Processed() int {
	n := 0
	for _, c := range s.Outcomes {
		n += c
	}
	return n
}

// Worker drives one full pass: list locations once, then run the pipeline
// for each valid location in order.
type Worker struct {
	source   Source
	pipeline *Pipeline
	retry    *retry.Executor
	metrics  Metrics
	logger   logrus.FieldLogger
}

// NewWorker creates a Worker. metrics may be nil.
func NewWorker(source Source, pipeline *Pipeline, executor *retry.Executor, metrics Metrics, logger logrus.FieldLogger) *Worker {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Worker{
		source:   source,
		pipeline: pipeline,
		retry:    executor,
		metrics:  metrics,
		logger:   logger,
	}
}

// RunOnce performs a pass. It only stops early when the location list cannot
// be obtained or ctx is cancelled; per-location failures never abort it.
func (w *Worker) RunOnce(ctx context.Context) Summary {
	summary := Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Outcomes:  make(map[Outcome]int, len(Outcomes)),
	}
	log := w.logger.WithField("run_id", summary.RunID)
	log.Info("worker started")

	defer func() {
		summary.FinishedAt = time.Now().UTC()
		w.metrics.RunCompleted(summary.Aborted)

		fields := logrus.Fields{
			"received": summary.Received,
			"pending":  summary.Pending,
			"duration": summary.FinishedAt.Sub(summary.StartedAt).String(),
		}
		for _, o := range Outcomes {
			fields[string(o)] = summary.Outcomes[o]
		}
		log.WithFields(fields).Info("worker finished")
	}()

	locations, err := retry.Value(ctx, w.retry, "list_locations", w.source.ListLocations)
	if err != nil {
		log.WithError(err).Error("could not fetch locations")
		summary.Aborted = true
		summary.Error = err.Error()
		return summary
	}
	if len(locations) == 0 {
		log.Error("could not fetch locations: list is empty")
		summary.Aborted = true
		summary.Error = "no locations received"
		return summary
	}

	summary.Received = len(locations)
	log.WithField("count", len(locations)).Info("locations received")

	for i, loc := range locations {
		if ctx.Err() != nil {
			summary.Pending = len(locations) - i
			log.WithField("pending", summary.Pending).Warn("pass interrupted")
			break
		}

		outcome := w.process(ctx, log.WithField("index", i), loc)
		summary.Outcomes[outcome]++
		w.metrics.LocationProcessed(string(outcome))
	}

	return summary
}

func (w *Worker) process(ctx context.Context, log logrus.FieldLogger, loc Location) Outcome {
	if err := loc.Validate(); err != nil {
		log.WithError(err).WithField("location", loc.Key()).Warn("invalid location entry, skipping")
		return OutcomeSkipped
	}

	log.WithField("location", loc.Key()).Info("fetching weather")
	_, outcome := w.pipeline.Process(ctx, *loc.Latitude, *loc.Longitude)
	return outcome
}
