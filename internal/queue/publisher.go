package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// AppID is stamped on every published message and on the broker connection.
const AppID = "weather-publisher"

// DefaultTimeout bounds connecting and publishing so a hung broker cannot
// stall a caller past the retry cadence.
const DefaultTimeout = 5 * time.Second

// ErrPublish wraps every connection, channel or broker failure of a publish.
var ErrPublish = errors.New("publish failed")

// Publisher sends single messages to durable queues. Each call opens and
// closes its own connection and never retries.
type Publisher struct {
	dialer   Dialer
	topology Topology
	timeout  time.Duration
	logger   logrus.FieldLogger
}

func NewPublisher(dialer Dialer, topology Topology, timeout time.Duration, logger logrus.FieldLogger) *Publisher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Publisher{
		dialer:   dialer,
		topology: topology,
		timeout:  timeout,
		logger:   logger,
	}
}

// Topology returns the queues this publisher declares.
func (p *Publisher) Topology() Topology {
	return p.topology
}

// Publish serializes message as JSON and publishes it persistently to
// queueName after ensuring the topology.
func (p *Publisher) Publish(ctx context.Context, queueName string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%w: encode message: %w", ErrPublish, err)
	}

	if err := p.send(ctx, queueName, body, nil, p.topology.Ensure); err != nil {
		return err
	}

	p.logger.WithField("queue", queueName).Info("message published")
	return nil
}

// EnsureTopology opens a connection only to declare both queues. Used as a
// startup check so argument mismatches surface before any work is done.
func (p *Publisher) EnsureTopology(ctx context.Context) error {
	return p.withChannel(ctx, p.topology.Ensure)
}

func (p *Publisher) send(ctx context.Context, queueName string, body []byte, headers amqp.Table, ensure func(Channel) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.withChannel(ctx, func(ch Channel) error {
		if err := ensure(ch); err != nil {
			return err
		}

		err := ch.PublishWithContext(ctx,
			"",        // exchange
			queueName, // routing key
			false,     // mandatory
			false,     // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    uuid.NewString(),
				Timestamp:    time.Now().UTC(),
				AppId:        AppID,
				Headers:      headers,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("basic.publish to %q: %w", queueName, err)
		}
		return nil
	})
}

// withChannel scopes a connection and channel to fn. Both are closed on every
// path and every error is wrapped with ErrPublish. After fn succeeds the
// closes are part of the result: a connection that does not close cleanly
// gives no guarantee the broker kept what was sent.
func (p *Publisher) withChannel(ctx context.Context, fn func(Channel) error) error {
	conn, err := p.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: connect: %w", ErrPublish, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		p.closeQuietly(conn, "connection")
		return fmt.Errorf("%w: open channel: %w", ErrPublish, err)
	}

	if err := fn(ch); err != nil {
		p.closeQuietly(ch, "channel")
		p.closeQuietly(conn, "connection")
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	if err := ch.Close(); err != nil {
		p.closeQuietly(conn, "connection")
		return fmt.Errorf("%w: close channel: %w", ErrPublish, err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("%w: close connection: %w", ErrPublish, err)
	}
	return nil
}

// closeQuietly is used on paths that already carry an error.
func (p *Publisher) closeQuietly(c io.Closer, what string) {
	if err := c.Close(); err != nil {
		p.logger.WithError(err).Debugf("broker %s close failed", what)
	}
}
