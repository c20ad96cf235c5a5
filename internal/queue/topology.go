package queue

import (
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/i474232898/weather-publisher/internal/retry"
)

const (
	DefaultMainQueue       = "weather-data"
	DefaultDeadLetterQueue = "weather-data.dlq"
)

// ErrTopologyMismatch means a queue already exists with different arguments.
// It is a configuration error and is never retried.
var ErrTopologyMismatch = errors.New("queue declared with mismatched arguments")

// Descriptor describes one durable queue.
type Descriptor struct {
	Name             string
	DeadLetterTarget string
}

// Arguments returns the x-arguments the queue is declared with.
func (d Descriptor) Arguments() amqp.Table {
	if d.DeadLetterTarget == "" {
		return nil
	}
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": d.DeadLetterTarget,
	}
}

// Topology is the main queue plus its dead-letter queue.
type Topology struct {
	MainQueue       string
	DeadLetterQueue string
}

// DefaultTopology uses the weather-data queue names.
func DefaultTopology() Topology {
	return Topology{MainQueue: DefaultMainQueue, DeadLetterQueue: DefaultDeadLetterQueue}
}

func (t Topology) Main() Descriptor {
	return Descriptor{Name: t.MainQueue, DeadLetterTarget: t.DeadLetterQueue}
}

func (t Topology) DeadLetter() Descriptor {
	return Descriptor{Name: t.DeadLetterQueue}
}

// Ensure declares the DLQ and then the main queue. The DLQ always goes first
// so brokers that validate the dead-letter reference eagerly accept it.
// Redeclaring with identical parameters is a no-op on the broker.
func (t Topology) Ensure(ch Channel) error {
	if err := t.EnsureDeadLetter(ch); err != nil {
		return err
	}
	return declare(ch, t.Main())
}

// EnsureDeadLetter declares only the DLQ.
func (t Topology) EnsureDeadLetter(ch Channel) error {
	return declare(ch, t.DeadLetter())
}

func declare(ch Channel, d Descriptor) error {
	_, err := ch.QueueDeclare(
		d.Name,        // name
		true,          // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		d.Arguments(), // arguments
	)
	if err == nil {
		return nil
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		return retry.Permanent(fmt.Errorf("%w: queue %q: %v", ErrTopologyMismatch, d.Name, err))
	}
	return fmt.Errorf("declare queue %q: %w", d.Name, err)
}
