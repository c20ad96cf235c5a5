package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Failure reasons carried in the x-failure-reason header of DLQ messages.
const (
	ReasonWeatherFetch = "weather_fetch_failed"
	ReasonPublish      = "publish_failed"
)

// ErrDLQRouting means the terminal fallback itself failed and the unit of
// work is lost.
var ErrDLQRouting = errors.New("dead-letter routing failed")

// DLQRouter sends payloads straight to the dead-letter queue. It makes one
// attempt; the message never entered the main queue, so the broker's
// dead-letter path does not apply.
type DLQRouter struct {
	publisher *Publisher
	logger    logrus.FieldLogger
}

func NewDLQRouter(publisher *Publisher, logger logrus.FieldLogger) *DLQRouter {
	return &DLQRouter{publisher: publisher, logger: logger}
}

// Route publishes payload to the DLQ. A failure is logged at error level
// and returned wrapped in ErrDLQRouting for accounting only.
func (r *DLQRouter) Route(ctx context.Context, payload any, reason string, cause error) error {
	topology := r.publisher.Topology()
	log := r.logger.WithFields(logrus.Fields{
		"queue":  topology.DeadLetterQueue,
		"reason": reason,
	})
	log.Warn("sending message to DLQ")

	body, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).WithField("lost", true).Error("could not encode DLQ payload")
		return fmt.Errorf("%w: encode payload: %w", ErrDLQRouting, err)
	}

	headers := amqp.Table{"x-failure-reason": reason}
	if cause != nil {
		headers["x-last-error"] = cause.Error()
	}

	if err := r.publisher.send(ctx, topology.DeadLetterQueue, body, headers, topology.EnsureDeadLetter); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"lost":    true,
			"payload": string(body),
		}).Error("could not store message in DLQ")
		return fmt.Errorf("%w: %w", ErrDLQRouting, err)
	}

	log.Warn("message stored in DLQ")
	return nil
}
